package main

import (
	"fmt"
	"log"
	"os"

	"github.com/Senhongl/differentiable-atomistic-potentials/pkg/cfg"
)

func main() {
	if len(os.Args) != 2 {
		log.Fatal("The path of the configuration file must be specified in the arguments")
	}

	log.Printf("Reading configuration file `%s`\n", os.Args[1])
	c, err := cfg.New(os.Args[1])
	if err != nil {
		log.Fatal(fmt.Errorf("newInput: %w", err))
	}

	log.Printf("Fitting the %s potential\n", c.Model)
	res, err := c.Fit(log.Default())
	if err != nil {
		log.Fatal(err)
	}

	if !res.Converged {
		log.Printf("The target loss was not reached (status %s)\n", res.Status)
	}
	log.Printf("Loss %.6g -> %.6g after %d iterations\n", res.Initial, res.Loss, res.Iterations)
	for _, name := range res.Params.Names() {
		log.Printf("  %-12s %.10g\n", name, res.Params[name])
	}

	log.Println("Done")
}

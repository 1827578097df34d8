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

	log.Printf("Evaluating the %s potential\n", c.Model)
	pred, err := c.Evaluate()
	if err != nil {
		log.Fatal(err)
	}

	if c.Out != "" {
		log.Printf("Predictions of %d configurations written into `%s`\n", len(pred), c.Out)
	}
	if c.Report != "" {
		log.Printf("Error statistics written into `%s_summary.txt`\n", c.Report)
	}

	log.Println("Done")
}

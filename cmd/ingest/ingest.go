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

	log.Printf("Storing the configurations of `%s` into `%s`\n", c.Traj, c.DB)
	n, err := c.Ingest()
	if err != nil {
		log.Fatal(err)
	}

	log.Printf("Done: %d calculations stored\n", n)
}

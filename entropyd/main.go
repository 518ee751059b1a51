// Entropyd feeds the kernel random pool with timing-jitter entropy.
package main

import (
	"github.com/entropylabs/entropyd/entropyd/cmd"
)

func main() {
	cmd.Execute()
}

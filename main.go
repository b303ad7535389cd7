// The main package for the readlater-importer executable.
package main

import (
	"github.com/JakeFAU/readlater-importer/cmd"
)

func main() {
	cmd.Execute()
}

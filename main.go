// The main package for the ski-crawler executable.
package main

import "github.com/JakeFAU/ski-resort-crawler/cmd"

func main() {
	cmd.Execute()
}

// Command pbcbuild builds smart-contract packages.
package main

import "github.com/papapumpkin/pbcbuild/cmd"

func main() {
	cmd.Execute()
}

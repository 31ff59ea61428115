// SPDX-License-Identifier: MPL-2.0

// Command simpkg builds, signs and packages simulator extension modules.
package main

import cmd "github.com/simpkg/simpkg/cmd/simpkg"

func main() {
	cmd.Execute()
}

package main

import cmd "github.com/rohmanhakim/storefront-ssr/internal/cli"

func main() {
	cmd.Execute()
}

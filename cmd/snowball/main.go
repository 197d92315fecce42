package main

import "github.com/JakeFAU/snowball-crawler/cmd"

func main() {
	cmd.Execute()
}

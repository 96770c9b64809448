/*
Copyright © 2022 NAME HERE <EMAIL ADDRESS>
*/
package main

import "github.com/csweichel/thintex/cmd"

func main() {
	cmd.Execute()
}

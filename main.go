package main

import "github.com/ValentinKolb/dDB/cmd"

func main() {
	cmd.Execute()
}

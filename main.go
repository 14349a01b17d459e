package main

import "github.com/ValentinKolb/mvkv/cmd"

func main() {
	cmd.Execute()
}

package main

import "github.com/frahmantamala/skillpay-gateway/cmd"

func main() {
	cmd.Execute()
}

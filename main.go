package main

import "github.com/yeah705-lgtm/ccs-sub003/cmd"

func main() {
	cmd.Execute()
}

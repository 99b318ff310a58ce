// Command ftpkit uploads a local directory to an FTP or SFTP server.
package main

import (
	"context"
	"os"
)

func main() {
	if err := newRootCommand(&cliFlags{}).ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

// Command carescore talks to the report API from a terminal: upload a
// document, confirm its extracted values and browse analysed reports.
package main

import (
	"os"

	"github.com/carescore/platform/pkg/common/logger"
)

func main() {
	logger.Init()
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// Command divertdump captures packets through WinDivert and prints a one
// line summary per packet.
package main

import (
	"os"

	"github.com/sirupsen/logrus"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		logrus.WithError(err).Error("divertdump failed")
		os.Exit(1)
	}
}

// Command shmwatchdog supervises shmd: it execs the service, waits
// for it to exit, sleeps, and relaunches, forwarding interrupt and
// terminate signals so a manual shutdown still stops the child
// cleanly.
package main

import (
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/pflag"
)

const restartDelay = 2 * time.Second

func main() {
	binary := pflag.StringP("binary", "b", "shmd", "Path to the supervised binary.")
	pflag.Parse()

	logger := log.New(os.Stderr)

	childArgs := pflag.Args()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	for {
		cmd := exec.Command(*binary, childArgs...)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr

		if err := cmd.Start(); err != nil {
			logger.Error("failed to launch supervised process", "binary", *binary, "err", err)
			select {
			case <-sigCh:
				return
			case <-time.After(restartDelay):
				continue
			}
		}

		done := make(chan error, 1)
		go func() { done <- cmd.Wait() }()

		select {
		case sig := <-sigCh:
			logger.Info("forwarding signal to supervised process", "signal", sig)
			_ = cmd.Process.Signal(sig)
			<-done
			return
		case err := <-done:
			if err != nil {
				logger.Warn("supervised process exited", "err", err)
			} else {
				logger.Info("supervised process exited cleanly")
			}
		}

		time.Sleep(restartDelay)
	}
}

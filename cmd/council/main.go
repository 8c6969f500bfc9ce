// Command council runs a single Paxos council member. Usage:
//
//	council <memberId> <port> [propose]
//
// With the optional "propose" argument, the member waits for a 2 second
// grace period for connections to form and then issues one
// propose("Value from Member <memberId>").
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"paxoscouncil/logging"
	"paxoscouncil/message"
	"paxoscouncil/node"
	"paxoscouncil/paxos"
	"paxoscouncil/profile"
)

const graceBeforePropose = 2 * time.Second

var rootCmd = &cobra.Command{
	Use:   "council <memberId> <port> [propose]",
	Short: "Run a single Paxos council member",
	Args:  cobra.RangeArgs(2, 3),
	RunE:  run,
}

func run(cmd *cobra.Command, args []string) error {
	var memberID int
	if _, err := fmt.Sscanf(args[0], "%d", &memberID); err != nil {
		return fmt.Errorf("invalid memberId %q: %w", args[0], err)
	}
	if memberID < 1 {
		return fmt.Errorf("memberId must be >= 1, got %d", memberID)
	}

	port := args[1]
	shouldPropose := len(args) == 3 && args[2] == "propose"
	if len(args) == 3 && args[2] != "propose" {
		return fmt.Errorf("unrecognized third argument %q, expected \"propose\"", args[2])
	}

	book := node.DefaultAddressbook()
	self := message.PeerID(memberID)
	endpoint, ok := book[self]
	if !ok {
		endpoint = node.Endpoint{Host: "localhost"}
	}
	endpoint.Port = port
	book[self] = endpoint

	logger := logging.New(memberID)
	prof := profile.ForPeer(self)
	logger.Infof("starting member %d on port %s with profile %s", memberID, port, prof.Name())

	n := node.New(self, book, prof, logger)
	if err := n.Start(); err != nil {
		return fmt.Errorf("failed to start node: %w", err)
	}

	if shouldPropose {
		go func() {
			time.Sleep(graceBeforePropose)
			value := fmt.Sprintf("Value from Member %d", memberID)
			outcome, err := n.Propose(value)
			if err != nil {
				logger.Warnf("propose(%q) aborted: %v", value, err)
				return
			}
			switch outcome {
			case paxos.Chosen:
				logger.Infof("propose(%q) finished with a chosen value", value)
			case paxos.LostQuorum:
				logger.Warnf("propose(%q) lost quorum", value)
			default:
				logger.Warnf("propose(%q) returned %s", value, outcome)
			}
		}()
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	logger.Infof("shutting down member %d", memberID)
	n.Shutdown()
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

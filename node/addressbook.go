package node

import (
	"fmt"
	"net"

	"paxoscouncil/message"
)

// Endpoint is where a peer can be dialed.
type Endpoint struct {
	Host string
	Port string
}

// Address returns the host:port pair net.Dial expects.
func (e Endpoint) Address() string {
	return net.JoinHostPort(e.Host, e.Port)
}

// Addressbook is the configuration surface from §6: an immutable
// PeerId -> (host, port) map a node is started with. It is a
// configuration concern, not a protocol concern.
type Addressbook map[message.PeerID]Endpoint

// DefaultAddressbook is the reference book: peers 1..9 on
// localhost:8001..8009.
func DefaultAddressbook() Addressbook {
	book := make(Addressbook, 9)
	for i := 1; i <= 9; i++ {
		book[message.PeerID(i)] = Endpoint{Host: "localhost", Port: fmt.Sprintf("800%d", i)}
	}
	return book
}

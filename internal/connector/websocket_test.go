package connector

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEmitAfterSendClosed(t *testing.T) {
	c := &client{send: make(chan []byte, 1)}
	c.closeSend()
	assert.NotPanics(t, func() { c.emit("match", Match{Game: "schnapsen"}) })
	assert.NotPanics(t, c.closeSend)
}

func TestMatchDeliveryDuringDisconnect(t *testing.T) {
	n := &Notifier{waiting: make(map[string]func(Match))}
	c := &client{send: make(chan []byte, 1), notifier: n}
	n.NotifyOnMatch("A", func(m Match) { c.emit("match", m) })

	// The socket tears down before the pulled callback runs
	c.closeSend()
	assert.NotPanics(t, func() { n.Deliver("A", Match{Game: "schnapsen"}) })
}

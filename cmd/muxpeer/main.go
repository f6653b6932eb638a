// Command muxpeer demonstrates the mux package by dialing itself over a TCP
// loopback pair, opening a BitChat network channel, and exchanging a
// message across it.
package main

import (
	"fmt"
	"net"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/meshnet/mux"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		log.Fatal().Err(err).Msg("listen failed")
	}
	defer l.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := l.Accept()
		if err != nil {
			log.Fatal().Err(err).Msg("accept failed")
		}
		accepted <- conn
	}()

	dialConn, err := net.Dial("tcp", l.Addr().String())
	if err != nil {
		log.Fatal().Err(err).Msg("dial failed")
	}
	acceptConn := <-accepted

	localID := mux.PeerID(mux.RandomChannelName())
	remoteID := mux.PeerID(mux.RandomChannelName())

	opened := make(chan *mux.ChannelStream, 1)
	server := mux.NewConnection(acceptConn, remoteID, localID, mux.WithCallbacks(mux.Callbacks{
		OnChannelOpen: func(ch *mux.ChannelStream) { opened <- ch },
	}))
	client := mux.NewConnection(dialConn, localID, remoteID)
	server.Start()
	client.Start()
	defer server.Dispose()
	defer client.Dispose()

	network := mux.RandomChannelName()
	channelName := mux.DeriveChannelName(mux.NetworkID(network), client.LocalPeerID(), client.RemotePeerID())

	clientChannel, err := client.OpenBitChatChannel(channelName)
	if err != nil {
		log.Fatal().Err(err).Msg("open channel failed")
	}

	var serverChannel *mux.ChannelStream
	select {
	case serverChannel = <-opened:
	case <-time.After(2 * time.Second):
		log.Fatal().Msg("timed out waiting for peer channel")
	}

	message := []byte("hello from muxpeer")
	if _, err := clientChannel.Write(message); err != nil {
		log.Fatal().Err(err).Msg("write failed")
	}

	buf := make([]byte, len(message))
	n, err := serverChannel.Read(buf)
	if err != nil {
		log.Fatal().Err(err).Msg("read failed")
	}
	fmt.Printf("received: %s\n", buf[:n])
}

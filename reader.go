package mux

import "context"

// readerLoop is the Connection's single frame reader: it pulls frames
// serially off the base stream and dispatches each by signal kind. Any
// error reading the next frame header terminates the loop and disposes the
// connection.
func (c *Connection) readerLoop() {
	defer c.Dispose()
	for {
		signal, name, payload, err := c.codec.ReadFrame()
		if err != nil {
			if c.isDisposed() {
				// local Dispose closed the base stream; Err stays nil
				return
			}
			if transportErr, ok := err.(*TransportError); ok && isConnCloseError(transportErr.Err) {
				c.setTerminationError(ErrPeerClosedConnection)
				c.logger.Debug().Msg("peer closed connection")
			} else {
				c.setTerminationError(err)
				c.logger.Debug().Err(err).Msg("reader loop terminating")
			}
			return
		}
		c.dispatch(signal, name, payload)
	}
}

func (c *Connection) dispatch(signal Signal, name ChannelName, payload []byte) {
	switch signal {
	case SignalNOOP:
		return

	case SignalConnectChannelBitChatNetwork:
		c.handleConnectBitChatNetwork(name)
	case SignalConnectChannelProxyTunnel:
		c.handleConnectProxyTunnel(name)
	case SignalConnectChannelVirtualConnection:
		c.handleConnectVirtualConnection(name)

	case SignalDataChannelBitChatNetwork, SignalDataChannelProxyTunnel, SignalDataChannelVirtualConnection:
		kind, _ := kindForDataSignal(signal)
		c.handleData(kind, name, payload)

	case SignalDisconnectChannelBitChatNetwork, SignalDisconnectChannelProxyTunnel, SignalDisconnectChannelVirtualConnection:
		kind, _ := kindForDisconnectSignal(signal)
		c.handleDisconnect(kind, name)

	case SignalPeerStatusQuery:
		c.handlePeerStatusQuery(name)
	case SignalPeerStatusAvailable:
		c.pendingPeerStatus.signal(name)

	case SignalStartTcpRelay:
		c.handleStartTcpRelay(name, payload)
	case SignalStopTcpRelay:
		c.handleStopTcpRelay(name, payload)
	case SignalTcpRelayResponseSuccess:
		c.pendingRelay.signal(name)
	case SignalTcpRelayResponsePeerList:
		c.handleTcpRelayResponsePeerList(payload)

	case SignalDhtPacketData:
		c.handleDhtPacketData(payload)
	case SignalBitChatNetworkInvitation:
		c.handleBitChatNetworkInvitation(name, payload)

	default:
		// unreachable: FrameCodec.ReadFrame rejects unknown signals before
		// they get here.
	}
}

func (c *Connection) handleConnectBitChatNetwork(name ChannelName) {
	ch := c.newChannel(BitChatNetwork, name)
	if err := c.registry.Insert(BitChatNetwork, name, ch); err != nil {
		c.logger.Debug().Str("channel", name.String()).Msg("dropped duplicate BitChatNetwork channel")
		return
	}
	c.callbacks.dispatchChannelOpen(ch)

	if c.relaySvc == nil {
		return
	}
	peers := c.relaySvc.LookupPeers(name, c)
	if len(peers) == 0 {
		return
	}
	payload, err := encodePeerList(peers)
	if err != nil {
		c.logger.Debug().Err(err).Msg("failed to encode relay peer list")
		return
	}
	if err := c.codec.WriteFrame(SignalTcpRelayResponsePeerList, name, payload); err != nil {
		c.logger.Debug().Err(err).Msg("failed to send relay peer list")
	}
}

func (c *Connection) handleData(kind ChannelKind, name ChannelName, payload []byte) {
	ch, ok := c.registry.Get(kind, name)
	if !ok {
		return
	}
	if err := ch.deliver(payload); err != nil {
		ch.Dispose()
	}
}

func (c *Connection) handleDisconnect(kind ChannelKind, name ChannelName) {
	if ch, ok := c.registry.Get(kind, name); ok {
		ch.Dispose()
	}
}

func (c *Connection) handleConnectProxyTunnel(name ChannelName) {
	endpoint, err := DecodeEndpoint(name)
	if err != nil {
		c.logger.Debug().Err(err).Msg("invalid proxy tunnel endpoint")
		return
	}
	localCh := c.newChannel(ProxyTunnel, name)
	if err := c.registry.Insert(ProxyTunnel, name, localCh); err != nil {
		c.logger.Debug().Str("channel", name.String()).Msg("dropped duplicate ProxyTunnel channel")
		return
	}
	if c.connManager == nil {
		localCh.Dispose()
		return
	}

	remote, err := c.connManager.Dial(context.Background(), endpoint)
	if err != nil {
		c.logger.Debug().Err(err).Stringer("endpoint", endpoint).Msg("proxy tunnel dial failed")
		localCh.Dispose()
		return
	}
	virtualCh, err := remote.requestVirtualConnectionChannel(endpoint)
	if err != nil {
		c.logger.Debug().Err(err).Msg("proxy tunnel virtual channel request failed")
		localCh.Dispose()
		return
	}

	j := newJoint(localCh, virtualCh, c.removeJoint)
	c.addJoint(j)
	j.Start()
}

func (c *Connection) handleConnectVirtualConnection(name ChannelName) {
	endpoint, err := DecodeEndpoint(name)
	if err != nil {
		c.logger.Debug().Err(err).Msg("invalid virtual connection endpoint")
		return
	}
	ch := c.newChannel(VirtualConnection, name)
	if err := c.registry.Insert(VirtualConnection, name, ch); err != nil {
		c.logger.Debug().Str("channel", name.String()).Msg("dropped duplicate VirtualConnection channel")
		return
	}
	if c.connManager == nil {
		ch.Dispose()
		return
	}
	go c.connManager.HandleInbound(ch, endpoint)
}

func (c *Connection) handlePeerStatusQuery(name ChannelName) {
	if c.connManager == nil {
		return
	}
	endpoint, err := DecodeEndpoint(name)
	if err != nil {
		return
	}
	if c.connManager.IsReachable(endpoint) {
		if err := c.codec.WriteFrame(SignalPeerStatusAvailable, name, nil); err != nil {
			c.logger.Debug().Err(err).Msg("failed to reply to peer status query")
		}
	}
}

func (c *Connection) handleStartTcpRelay(name ChannelName, payload []byte) {
	networkIDs, trackers, err := decodeStartRelayPayload(payload, name)
	if err != nil {
		c.logger.Debug().Err(err).Msg("malformed StartTcpRelay payload")
		return
	}
	if c.relaySvc == nil {
		return
	}
	for _, network := range networkIDs {
		c.relayMu.Lock()
		_, hosted := c.relayTable[network]
		c.relayMu.Unlock()
		if hosted {
			continue
		}
		handle, err := c.relaySvc.Start(network, c, trackers)
		if err != nil {
			c.logger.Debug().Err(err).Stringer("network", network).Msg("relay start failed")
			continue
		}
		c.relayMu.Lock()
		c.relayTable[network] = handle
		c.relayMu.Unlock()
	}
	if err := c.codec.WriteFrame(SignalTcpRelayResponseSuccess, name, nil); err != nil {
		c.logger.Debug().Err(err).Msg("failed to ack StartTcpRelay")
	}
}

func (c *Connection) handleStopTcpRelay(name ChannelName, payload []byte) {
	networkIDs, err := decodeStopRelayPayload(payload, name)
	if err != nil {
		c.logger.Debug().Err(err).Msg("malformed StopTcpRelay payload")
		return
	}
	for _, network := range networkIDs {
		c.relayMu.Lock()
		handle, ok := c.relayTable[network]
		if ok {
			delete(c.relayTable, network)
		}
		c.relayMu.Unlock()
		if ok {
			handle.Close()
		}
	}
	if err := c.codec.WriteFrame(SignalTcpRelayResponseSuccess, name, nil); err != nil {
		c.logger.Debug().Err(err).Msg("failed to ack StopTcpRelay")
	}
}

func (c *Connection) handleTcpRelayResponsePeerList(payload []byte) {
	peers, err := decodePeerList(payload)
	if err != nil {
		c.logger.Debug().Err(err).Msg("malformed TcpRelayResponsePeerList payload")
		return
	}
	c.callbacks.dispatchRelayPeers(peers)
}

func (c *Connection) handleDhtPacketData(payload []byte) {
	if c.dhtClient == nil {
		return
	}
	c.dhtClient.HandlePacket(payload, c.remoteEndpoint.IP)
}

func (c *Connection) handleBitChatNetworkInvitation(name ChannelName, payload []byte) {
	network := NetworkID(name)
	c.callbacks.dispatchInvitation(network, c.remoteEndpoint, string(payload))
}

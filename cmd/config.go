package main

import (
	"whiteboard-lab/infrastructure/datagram"
	"whiteboard-lab/infrastructure/stream"
	"whiteboard-lab/internal"
)

func streamConfig(cfg internal.Config) stream.Config {
	return stream.Config{
		Host:             cfg.Host,
		Port:             cfg.StreamPort,
		HandshakeTimeout: cfg.HandshakeTimeout,
		WriteTimeout:     cfg.WriteTimeout,
		BufferSize:       cfg.ConnectionBufferSize,
		MaxFrameSize:     cfg.MaxFrameSize,
	}
}

func datagramConfig(cfg internal.Config) datagram.Config {
	return datagram.Config{
		Host:       cfg.Host,
		Port:       cfg.DatagramPort,
		BufferSize: cfg.DatagramBufferSize,
	}
}

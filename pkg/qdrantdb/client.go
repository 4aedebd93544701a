package qdrantdb

import (
	"github.com/qdrant/go-client/qdrant"
)

// Client wraps the qdrant gRPC client.
type Client struct {
	Client *qdrant.Client
}

func NewClient(host string, port int) (*Client, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host: host,
		Port: port, // gRPC port
	})
	if err != nil {
		return nil, err
	}
	return &Client{Client: client}, nil
}

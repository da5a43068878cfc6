// Package Adhoc announces a running node to an optional registry server.
package Adhoc

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"FaceMocap/logger"
)

const (
	SenderMode   = "sender"
	ReceiverMode = "receiver"

	TimeOutSeconds = 5
)

type RegisterRequest struct {
	Id        string `json:"id"`
	IP        string `json:"ip"`
	Mode      string `json:"mode"`
	UDPTarget string `json:"udpTarget"`
	GRPCPort  int    `json:"grpcPort"`
	TimeStamp int64  `json:"timestamp"`
}

type RegisterResponse struct {
	Id      string `json:"id"`
	Success bool   `json:"success"`
}

type RegServerConfig struct {
	Port int
	Addr string
}

func (reg *RegServerConfig) SetAddress(addr string, port int) {
	reg.Addr = addr
	reg.Port = port
}

func (reg RegServerConfig) url() string {
	if reg.Port == 0 {
		return fmt.Sprintf("http://%s/api/register", reg.Addr)
	}
	return fmt.Sprintf("http://%s:%d/api/register", reg.Addr, reg.Port)
}

// Node describes this process to the registry.
type Node struct {
	IP        string
	Mode      string
	UDPTarget string
	GRPCPort  int
}

// Heartbeat registers node with reg immediately and then every interval
// until ctx is cancelled. Failed attempts are logged and retried on the next
// tick.
type Heartbeat struct {
	Reg      RegServerConfig
	Node     Node
	Interval time.Duration

	id     string
	client *resty.Client
}

func NewHeartbeat(reg RegServerConfig, node Node) *Heartbeat {
	return &Heartbeat{
		Reg:      reg,
		Node:     node,
		Interval: TimeOutSeconds * time.Second,
		id:       uuid.NewString(),
		client:   resty.New().SetTimeout(TimeOutSeconds * time.Second), // 总超时
	}
}

// ID is the node id sent with every heartbeat.
func (h *Heartbeat) ID() string {
	return h.id
}

func (h *Heartbeat) send(ctx context.Context) error {
	var respBody RegisterResponse
	reqBody := RegisterRequest{
		Id:        h.id,
		IP:        h.Node.IP,
		Mode:      h.Node.Mode,
		UDPTarget: h.Node.UDPTarget,
		GRPCPort:  h.Node.GRPCPort,
		TimeStamp: time.Now().Unix(),
	}
	resp, err := h.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(reqBody).
		SetResult(&respBody). // 2xx 自动反序列化到 respBody
		Post(h.Reg.url())
	if err != nil {
		return fmt.Errorf("request error: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("server returned error: %s, body: %s", resp.Status(), resp.String())
	}
	if !respBody.Success {
		return fmt.Errorf("registration rejected for %s", h.id)
	}
	return nil
}

func (h *Heartbeat) Run(ctx context.Context) {
	log := logger.Named("adhoc").With(zap.String("id", h.id))
	beat := func() {
		if err := h.send(ctx); err != nil && ctx.Err() == nil {
			log.Error("heartbeat failed", zap.Error(err))
		}
	}
	beat()
	ticker := time.NewTicker(h.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info("heartbeat context cancelled, exiting goroutine.")
			return
		case <-ticker.C:
			beat()
		}
	}
}

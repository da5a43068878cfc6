package engine

import "errors"

const UNREGISTERED = 0x0001
const READY = 0x0002
const RUNNING = 0x0003
const STOPPED = 0x0004

// 连续取帧失败超过该次数时主循环退出
const maxSourceErrors = 30

var (
	ErrNoFrame = errors.New("no face frame processed yet")
	ErrNoPose  = errors.New("no valid head pose available")
	ErrRunning = errors.New("engine already running")
	// ErrChannelInvalid 最近一帧有标定通道未测得，不能作为基准
	ErrChannelInvalid = errors.New("calibrated channel not measured on latest frame")
)

// StateName is the human readable form of an engine state.
func StateName(state int) string {
	switch state {
	case READY:
		return "READY"
	case RUNNING:
		return "RUNNING"
	case STOPPED:
		return "STOPPED"
	default:
		return "UNREGISTERED"
	}
}

//go:build linux

package can

import (
	"context"
	"fmt"
	"net"
	"time"

	"golang.org/x/sys/unix"
)

// Linux CAN socket family/protocol constants. golang.org/x/sys/unix does not
// export these on every architecture, so they are pinned here to the values
// defined by <linux/can.h>.
const (
	afCAN          = 29
	canRawProtocol = 1  // CAN_RAW
	solCANRaw      = 101 // SOL_CAN_RAW
	canRawFDFrames = 5   // CAN_RAW_FD_FRAMES

	canfdBRS = 0x01 // bitrate switch flag in canfd_frame.flags
	canfdESI = 0x02 // error state indicator flag in canfd_frame.flags

	canEFFFlag = 0x80000000 // extended frame format
	canRTRFlag = 0x40000000 // remote transmission request
	canERRFlag = 0x20000000 // error frame
	canEFFMask = 0x1FFFFFFF
	canSFFMask = 0x7FF

	classicFrameSize = 16
	fdFrameSize      = 72
)

// socketCAN implements Bus over Linux SocketCAN.
type socketCAN struct {
	fd int
}

// DialSocketCAN opens a raw CAN socket bound to the given interface name
// (e.g. "can0"). When fd is true, CAN FD frames are enabled on the socket.
func DialSocketCAN(iface string, fd bool) (Bus, error) {
	sock, err := unix.Socket(afCAN, unix.SOCK_RAW, canRawProtocol)
	if err != nil {
		return nil, fmt.Errorf("can: open socketcan: %w", err)
	}

	netIf, err := net.InterfaceByName(iface)
	if err != nil {
		unix.Close(sock)
		return nil, fmt.Errorf("can: resolve interface %q: %w", iface, err)
	}

	if fd {
		if err := unix.SetsockoptInt(sock, solCANRaw, canRawFDFrames, 1); err != nil {
			unix.Close(sock)
			return nil, fmt.Errorf("can: enable CAN FD frames: %w", err)
		}
	}

	addr := &unix.SockaddrCAN{Ifindex: netIf.Index}
	if err := unix.Bind(sock, addr); err != nil {
		unix.Close(sock)
		return nil, fmt.Errorf("can: bind to %q: %w", iface, err)
	}

	if err := unix.SetNonblock(sock, true); err != nil {
		unix.Close(sock)
		return nil, err
	}

	return &socketCAN{fd: sock}, nil
}

func (s *socketCAN) Close() error {
	return unix.Close(s.fd)
}

// Send writes one frame using the classical or CAN FD can_frame binary
// layout, depending on frame.IsFD.
func (s *socketCAN) Send(ctx context.Context, frame Frame) error {
	if err := frame.Validate(); err != nil {
		return err
	}
	buf, err := marshalFrame(frame)
	if err != nil {
		return err
	}
	for {
		n, werr := unix.Write(s.fd, buf)
		if werr == nil {
			if n != len(buf) {
				return fmt.Errorf("can: short write (%d of %d bytes)", n, len(buf))
			}
			return nil
		}
		if werr == unix.EAGAIN || werr == unix.EWOULDBLOCK {
			if err := waitOrSleep(ctx); err != nil {
				return err
			}
			continue
		}
		return werr
	}
}

// Receive reads one frame, blocking (in small increments) until a frame
// arrives or ctx is cancelled.
func (s *socketCAN) Receive(ctx context.Context) (Frame, error) {
	buf := make([]byte, fdFrameSize)
	for {
		n, rerr := unix.Read(s.fd, buf)
		if rerr == nil {
			return unmarshalFrame(buf[:n])
		}
		if rerr == unix.EAGAIN || rerr == unix.EWOULDBLOCK {
			if err := waitOrSleep(ctx); err != nil {
				return Frame{}, err
			}
			continue
		}
		return Frame{}, rerr
	}
}

func waitOrSleep(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(time.Millisecond):
		return nil
	}
}

func marshalFrame(f Frame) ([]byte, error) {
	id := f.ArbitrationID
	if f.IsExtendedID {
		id |= canEFFFlag
	}
	if f.IsRemoteFrame {
		id |= canRTRFlag
	}
	if f.IsErrorFrame {
		id |= canERRFlag
	}

	if f.IsFD {
		buf := make([]byte, fdFrameSize)
		putUint32LE(buf[0:4], id)
		buf[4] = byte(len(f.Data))
		var flags byte
		if f.BitrateSwitch {
			flags |= canfdBRS
		}
		if f.ErrorStateIndicator {
			flags |= canfdESI
		}
		buf[5] = flags
		copy(buf[8:8+len(f.Data)], f.Data)
		return buf, nil
	}

	buf := make([]byte, classicFrameSize)
	putUint32LE(buf[0:4], id)
	buf[4] = f.DLC
	copy(buf[8:8+len(f.Data)], f.Data)
	return buf, nil
}

func unmarshalFrame(data []byte) (Frame, error) {
	var f Frame
	if len(data) != classicFrameSize && len(data) != fdFrameSize {
		return Frame{}, fmt.Errorf("can: unexpected frame size %d from socketcan", len(data))
	}
	id := getUint32LE(data[0:4])
	f.IsExtendedID = id&canEFFFlag != 0
	f.IsRemoteFrame = id&canRTRFlag != 0
	f.IsErrorFrame = id&canERRFlag != 0
	if f.IsExtendedID {
		f.ArbitrationID = id & canEFFMask
	} else {
		f.ArbitrationID = id & canSFFMask
	}
	f.IsRx = true

	if len(data) == fdFrameSize {
		f.IsFD = true
		n := int(data[4])
		flags := data[5]
		f.BitrateSwitch = flags&canfdBRS != 0
		f.ErrorStateIndicator = flags&canfdESI != 0
		f.Data = append([]byte(nil), data[8:8+n]...)
		dlc, err := Len2DLC(n)
		if err != nil {
			return Frame{}, err
		}
		f.DLC = dlc
	} else {
		n := int(data[4])
		if n > 8 {
			n = 8
		}
		f.Data = append([]byte(nil), data[8:8+n]...)
		f.DLC = uint8(n)
	}
	return f, f.Validate()
}

func putUint32LE(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func getUint32LE(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

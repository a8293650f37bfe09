package network

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// DialTCP starts a non-blocking connect to ip:port and returns the socket.
// The connect is usually still in progress; wait for the socket to become
// writable and check ConnectError.
func DialTCP(ip net.IP, port uint16) (int, error) {
	var (
		family int
		sa     unix.Sockaddr
	)
	if ip4 := ip.To4(); ip4 != nil {
		addr := &unix.SockaddrInet4{Port: int(port)}
		copy(addr.Addr[:], ip4)
		family, sa = unix.AF_INET, addr
	} else if ip16 := ip.To16(); ip16 != nil {
		addr := &unix.SockaddrInet6{Port: int(port)}
		copy(addr.Addr[:], ip16)
		family, sa = unix.AF_INET6, addr
	} else {
		return -1, fmt.Errorf("dial: invalid address %v", ip)
	}

	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return -1, fmt.Errorf("socket: %w", err)
	}

	if err := unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("set nodelay: %w", err)
	}

	if err := unix.Connect(fd, sa); err != nil && err != unix.EINPROGRESS {
		unix.Close(fd)
		return -1, fmt.Errorf("connect: %w", err)
	}
	return fd, nil
}

// ConnectError reports the outcome of a non-blocking connect.
func ConnectError(fd int) error {
	val, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return fmt.Errorf("get so_error: %w", err)
	}
	if val != 0 {
		return unix.Errno(val)
	}
	return nil
}

func BindUDP() (int, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, err
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return -1, err
	}
	return fd, nil
}

package socks4

import (
	"bytes"
	"net"
	"strings"

	"github.com/ginuerzh/gosocks4"

	"socks4-tunnel/internal/domain"
)

const (
	Version    = 0x04
	CmdConnect = 0x01

	// ReplySize is the fixed length of a CONNECT reply.
	ReplySize = 8
)

// Status is the CD field of a reply.
type Status uint8

const (
	StatusGranted           Status = 90
	StatusRejected          Status = 91
	StatusIdentdUnreachable Status = 92
	StatusIdentdMismatch    Status = 93
)

func (s Status) String() string {
	switch s {
	case StatusGranted:
		return "request granted"
	case StatusRejected:
		return "request rejected or failed"
	case StatusIdentdUnreachable:
		return "rejected: proxy cannot connect to identd on the client"
	case StatusIdentdMismatch:
		return "rejected: client and identd report different user-ids"
	default:
		return "unknown status"
	}
}

// Reply is a decoded CONNECT reply. Port and IP are informational and may
// be zero.
type Reply struct {
	Status Status
	Port   uint16
	IP     net.IP
}

// EncodeRequest builds the CONNECT request for target. A literal IPv4 host
// yields a plain SOCKS4 request; a host name yields a SOCKS4a request with
// DSTIP 0.0.0.1 so the proxy resolves the name.
func EncodeRequest(target domain.ProxyTarget, userID string) ([]byte, error) {
	if strings.IndexByte(userID, 0) >= 0 || strings.IndexByte(target.Host, 0) >= 0 {
		return nil, ErrInvalidField
	}

	addr := &gosocks4.Addr{Type: gosocks4.AddrDomain, Host: target.Host, Port: target.Port}
	if ip := net.ParseIP(target.Host); ip != nil {
		if ip.To4() == nil {
			return nil, ErrUnsupportedAddress
		}
		addr.Type = gosocks4.AddrIPv4
	}

	var buf bytes.Buffer
	req := gosocks4.NewRequest(gosocks4.CmdConnect, addr, []byte(userID))
	if err := req.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeReply decodes an 8-byte CONNECT reply. A reply granting the
// request returns a nil error; status 91-93 return *RejectionError and
// everything else wraps ErrProtocolViolation.
func DecodeReply(b []byte) (Reply, error) {
	if len(b) != ReplySize {
		return Reply{}, violation(ErrTruncatedReply, "got %d bytes", len(b))
	}
	if b[0] != 0 {
		return Reply{}, violation(ErrBadVersion, "version %d", b[0])
	}

	rep, err := gosocks4.ReadReply(bytes.NewReader(b))
	if err != nil {
		return Reply{}, violation(ErrTruncatedReply, "%v", err)
	}

	reply := Reply{Status: Status(rep.Code)}
	if rep.Addr != nil {
		reply.Port = rep.Addr.Port
		reply.IP = net.ParseIP(rep.Addr.Host)
	}

	switch reply.Status {
	case StatusGranted:
		return reply, nil
	case StatusRejected, StatusIdentdUnreachable, StatusIdentdMismatch:
		return reply, &RejectionError{Status: reply.Status}
	default:
		return reply, violation(ErrUnknownStatus, "status %d", uint8(reply.Status))
	}
}

// EncodeReply builds a reply packet. Used by proxies and tests. A nil or
// non-IPv4 ip is written as 0.0.0.0.
func EncodeReply(status Status, port uint16, ip net.IP) []byte {
	host := net.IPv4zero.String()
	if ip4 := ip.To4(); ip4 != nil {
		host = ip4.String()
	}

	var buf bytes.Buffer
	rep := gosocks4.NewReply(uint8(status), &gosocks4.Addr{Type: gosocks4.AddrIPv4, Host: host, Port: port})
	_ = rep.Write(&buf) // bytes.Buffer writes do not fail
	return buf.Bytes()
}

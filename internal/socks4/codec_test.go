package socks4

import (
	"bytes"
	"errors"
	"net"
	"testing"

	"socks4-tunnel/internal/domain"
)

func TestEncodeRequestLiteralIPv4(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		target domain.ProxyTarget
		userID string
		want   []byte
	}{
		{
			name:   "scenario target",
			target: domain.ProxyTarget{Host: "93.82.197.107", Port: 3129},
			userID: "user",
			want:   []byte{0x04, 0x01, 0x0c, 0x39, 93, 82, 197, 107, 'u', 's', 'e', 'r', 0x00},
		},
		{
			name:   "empty user id",
			target: domain.ProxyTarget{Host: "127.0.0.1", Port: 80},
			want:   []byte{0x04, 0x01, 0x00, 0x50, 127, 0, 0, 1, 0x00},
		},
		{
			name:   "high port",
			target: domain.ProxyTarget{Host: "10.1.2.3", Port: 65535},
			userID: "u",
			want:   []byte{0x04, 0x01, 0xff, 0xff, 10, 1, 2, 3, 'u', 0x00},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := EncodeRequest(tt.target, tt.userID)
			if err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(got, tt.want) {
				t.Fatalf("got % x want % x", got, tt.want)
			}
		})
	}
}

func TestEncodeRequestHostName(t *testing.T) {
	t.Parallel()

	for _, host := range []string{"example.com", "httpbin.org", "a"} {
		t.Run(host, func(t *testing.T) {
			t.Parallel()

			got, err := EncodeRequest(domain.ProxyTarget{Host: host, Port: 443}, "user")
			if err != nil {
				t.Fatal(err)
			}

			head := []byte{0x04, 0x01, 0x01, 0xbb, 0, 0, 0, 1}
			if !bytes.Equal(got[:8], head) {
				t.Fatalf("header: got % x want % x", got[:8], head)
			}
			rest := got[8:]
			want := append([]byte("user\x00"), append([]byte(host), 0)...)
			if !bytes.Equal(rest, want) {
				t.Fatalf("suffix: got %q want %q", rest, want)
			}
		})
	}
}

func TestEncodeRequestRejectsInvalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		target domain.ProxyTarget
		userID string
		want   error
	}{
		{name: "ipv6", target: domain.ProxyTarget{Host: "::1", Port: 80}, want: ErrUnsupportedAddress},
		{name: "nul in user id", target: domain.ProxyTarget{Host: "1.2.3.4", Port: 80}, userID: "a\x00b", want: ErrInvalidField},
		{name: "nul in host", target: domain.ProxyTarget{Host: "a\x00b", Port: 80}, want: ErrInvalidField},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if _, err := EncodeRequest(tt.target, tt.userID); !errors.Is(err, tt.want) {
				t.Fatalf("err=%v want %v", err, tt.want)
			}
		})
	}
}

func TestDecodeReply(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		reply      []byte
		wantStatus Status
		wantErr    error
		rejected   bool
	}{
		{name: "granted", reply: EncodeReply(StatusGranted, 0, nil), wantStatus: StatusGranted},
		{name: "granted with address", reply: EncodeReply(StatusGranted, 3129, net.IPv4(93, 82, 197, 107)), wantStatus: StatusGranted},
		{name: "rejected", reply: EncodeReply(StatusRejected, 0, nil), wantStatus: StatusRejected, wantErr: ErrRejected, rejected: true},
		{name: "no identd", reply: EncodeReply(StatusIdentdUnreachable, 0, nil), wantStatus: StatusIdentdUnreachable, wantErr: ErrRejected, rejected: true},
		{name: "identd mismatch", reply: EncodeReply(StatusIdentdMismatch, 0, nil), wantStatus: StatusIdentdMismatch, wantErr: ErrRejected, rejected: true},
		{name: "unknown status", reply: EncodeReply(Status(42), 0, nil), wantErr: ErrUnknownStatus},
		{name: "bad version", reply: []byte{0x04, 90, 0, 0, 0, 0, 0, 0}, wantErr: ErrBadVersion},
		{name: "short", reply: []byte{0x00, 90, 0}, wantErr: ErrTruncatedReply},
		{name: "long", reply: make([]byte, 9), wantErr: ErrTruncatedReply},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			rep, err := DecodeReply(tt.reply)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatal(err)
				}
				if rep.Status != tt.wantStatus {
					t.Fatalf("status %d want %d", rep.Status, tt.wantStatus)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err=%v want %v", err, tt.wantErr)
			}

			var rej *RejectionError
			if got := errors.As(err, &rej); got != tt.rejected {
				t.Fatalf("rejection=%v want %v", got, tt.rejected)
			}
			if tt.rejected {
				if rej.Status != tt.wantStatus {
					t.Fatalf("rejection status %d want %d", rej.Status, tt.wantStatus)
				}
				if errors.Is(err, ErrProtocolViolation) {
					t.Fatal("rejection must not be a protocol violation")
				}
			} else if !errors.Is(err, ErrProtocolViolation) {
				t.Fatalf("expected protocol violation, got %v", err)
			}
		})
	}
}

func TestEncodeReply(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		status Status
		port   uint16
		ip     net.IP
		want   []byte
	}{
		{name: "granted with address", status: StatusGranted, port: 3129, ip: net.IPv4(93, 82, 197, 107), want: []byte{0x00, 0x5a, 0x0c, 0x39, 93, 82, 197, 107}},
		{name: "rejected without address", status: StatusRejected, want: []byte{0x00, 0x5b, 0, 0, 0, 0, 0, 0}},
		{name: "ipv6 written as zero", status: StatusIdentdMismatch, port: 1, ip: net.IPv6loopback, want: []byte{0x00, 0x5d, 0, 1, 0, 0, 0, 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := EncodeReply(tt.status, tt.port, tt.ip); !bytes.Equal(got, tt.want) {
				t.Fatalf("got % x want % x", got, tt.want)
			}
		})
	}
}

func TestDecodeReplyInformationalFields(t *testing.T) {
	t.Parallel()

	rep, err := DecodeReply(EncodeReply(StatusGranted, 3129, net.IPv4(93, 82, 197, 107)))
	if err != nil {
		t.Fatal(err)
	}
	if rep.Port != 3129 {
		t.Fatalf("port %d", rep.Port)
	}
	if !rep.IP.Equal(net.IPv4(93, 82, 197, 107)) {
		t.Fatalf("ip %v", rep.IP)
	}
}

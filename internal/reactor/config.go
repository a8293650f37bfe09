package reactor

import "time"

type Config struct {
	// SelectInterval bounds how long the loop sleeps between timeout checks.
	SelectInterval time.Duration
	// SocketTimeout is the idle time after which an established connection
	// receives Timeout. Zero disables it.
	SocketTimeout time.Duration
	// ConnectTimeout bounds name resolution plus the TCP connect.
	ConnectTimeout time.Duration
	// Nameserver resolves proxy host names, as "ip" or "ip:port". Empty
	// means the first IPv4 nameserver in ResolvConf.
	Nameserver string
	ResolvConf string
}

func DefaultConfig() Config {
	return Config{
		SelectInterval: time.Second,
		SocketTimeout:  30 * time.Second,
		ConnectTimeout: 10 * time.Second,
		ResolvConf:     "/etc/resolv.conf",
	}
}

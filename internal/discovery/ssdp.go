// Package discovery implements UPnP SSDP-based camera discovery and the
// CameraRecord registry (spec §4.3, C3).
package discovery

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

const (
	ssdpAddr      = "239.255.255.250:1900"
	maxPacketSize = 4096
	// Search target for the device descriptor this service discovers.
	searchTarget = "urn:schemas-canon-com:service:CameraControl:1"
)

// Advertisement is a parsed SSDP NOTIFY or M-SEARCH response.
type Advertisement struct {
	USN         string // uniquely identifies the device; uuid is extracted from it
	Location    string // descriptor URL, e.g. http://192.168.1.50:8080/desc.xml
	Server      string
	NT          string
	IPAddress   string
	Port        int
}

// SSDPClient sends M-SEARCH probes and listens for NOTIFY announcements.
type SSDPClient struct {
	socket *net.UDPConn
}

// NewSSDPClient binds an ephemeral UDP socket for sending probes and
// receiving responses/announcements.
func NewSSDPClient() (*SSDPClient, error) {
	addr, err := net.ResolveUDPAddr("udp4", ":0")
	if err != nil {
		return nil, fmt.Errorf("failed to resolve local addr: %w", err)
	}
	conn, err := net.ListenUDP("udp4", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to bind udp: %w", err)
	}
	return &SSDPClient{socket: conn}, nil
}

func (c *SSDPClient) Close() {
	if c.socket != nil {
		c.socket.Close()
	}
}

// Scan sends an M-SEARCH probe and collects responses/NOTIFYs for duration.
func (c *SSDPClient) Scan(ctx context.Context, duration time.Duration) ([]Advertisement, error) {
	dstAddr, err := net.ResolveUDPAddr("udp4", ssdpAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve ssdp addr: %w", err)
	}

	msg := buildSearchMessage()
	if _, err := c.socket.WriteToUDP([]byte(msg), dstAddr); err != nil {
		return nil, fmt.Errorf("failed to send m-search: %w", err)
	}

	found := make(map[string]Advertisement)
	buf := make([]byte, maxPacketSize)

	endTime := time.Now().Add(duration)
	for {
		remaining := time.Until(endTime)
		if remaining <= 0 {
			break
		}
		select {
		case <-ctx.Done():
			return toSlice(found), ctx.Err()
		default:
		}

		c.socket.SetReadDeadline(time.Now().Add(remaining))
		n, from, err := c.socket.ReadFromUDP(buf)
		if err != nil {
			break // read deadline expired, or socket closed — either way, stop collecting
		}
		if n == 0 {
			continue
		}
		if adv, ok := parseSSDPMessage(buf[:n]); ok {
			if adv.IPAddress == "" && from != nil {
				adv.IPAddress = from.IP.String()
			}
			found[adv.USN] = adv
		}
	}

	return toSlice(found), nil
}

func toSlice(m map[string]Advertisement) []Advertisement {
	out := make([]Advertisement, 0, len(m))
	for _, a := range m {
		out = append(out, a)
	}
	return out
}

func buildSearchMessage() string {
	return "M-SEARCH * HTTP/1.1\r\n" +
		"HOST: " + ssdpAddr + "\r\n" +
		"MAN: \"ssdp:discover\"\r\n" +
		"MX: 3\r\n" +
		"ST: " + searchTarget + "\r\n\r\n"
}

// parseSSDPMessage handles both M-SEARCH responses (HTTP/1.1 200 OK) and
// NOTIFY announcements (NOTIFY * HTTP/1.1); both are newline-delimited
// header blocks.
func parseSSDPMessage(data []byte) (Advertisement, bool) {
	lines := strings.Split(strings.ReplaceAll(string(data), "\r\n", "\n"), "\n")
	if len(lines) == 0 {
		return Advertisement{}, false
	}

	startLine := strings.TrimSpace(lines[0])
	isResponse := strings.HasPrefix(startLine, "HTTP/1.1 200")
	isNotify := strings.HasPrefix(startLine, "NOTIFY")
	if !isResponse && !isNotify {
		return Advertisement{}, false
	}

	headers := map[string]string{}
	for _, line := range lines[1:] {
		idx := strings.Index(line, ":")
		if idx < 0 {
			continue
		}
		key := strings.ToUpper(strings.TrimSpace(line[:idx]))
		val := strings.TrimSpace(line[idx+1:])
		headers[key] = val
	}

	nt := headers["NT"]
	if nt == "" {
		nt = headers["ST"]
	}
	if !strings.Contains(nt, "CameraControl") {
		return Advertisement{}, false
	}

	adv := Advertisement{
		USN:      headers["USN"],
		Location: headers["LOCATION"],
		Server:   headers["SERVER"],
		NT:       nt,
	}
	if adv.USN == "" {
		return Advertisement{}, false
	}
	adv.IPAddress, adv.Port = parseLocation(adv.Location)
	return adv, true
}

func parseLocation(location string) (ip string, port int) {
	s := strings.TrimPrefix(location, "http://")
	s = strings.TrimPrefix(s, "https://")
	if idx := strings.Index(s, "/"); idx != -1 {
		s = s[:idx]
	}
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return s, 0
	}
	p, _ := strconv.Atoi(portStr)
	return host, p
}

// ExtractUUID pulls the device uuid out of a USN like
// "uuid:1234-5678::urn:schemas-canon-com:service:CameraControl:1".
func ExtractUUID(usn string) string {
	if idx := strings.Index(usn, "::"); idx != -1 {
		usn = usn[:idx]
	}
	return strings.TrimPrefix(usn, "uuid:")
}

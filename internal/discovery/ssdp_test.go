package discovery

import "testing"

func TestParseSSDPNotify(t *testing.T) {
	msg := "NOTIFY * HTTP/1.1\r\n" +
		"HOST: 239.255.255.250:1900\r\n" +
		"NT: urn:schemas-canon-com:service:CameraControl:1\r\n" +
		"NTS: ssdp:alive\r\n" +
		"USN: uuid:1234-5678::urn:schemas-canon-com:service:CameraControl:1\r\n" +
		"LOCATION: http://192.168.1.50:8080/desc.xml\r\n" +
		"SERVER: Canon CCAPI/1.0\r\n\r\n"

	adv, ok := parseSSDPMessage([]byte(msg))
	if !ok {
		t.Fatal("expected to parse NOTIFY")
	}
	if adv.IPAddress != "192.168.1.50" || adv.Port != 8080 {
		t.Errorf("unexpected location parse: %+v", adv)
	}
	if ExtractUUID(adv.USN) != "1234-5678" {
		t.Errorf("expected uuid 1234-5678, got %s", ExtractUUID(adv.USN))
	}
}

func TestParseSSDPIgnoresUnrelatedNotify(t *testing.T) {
	msg := "NOTIFY * HTTP/1.1\r\n" +
		"NT: urn:schemas-upnp-org:service:SomeOtherService:1\r\n" +
		"USN: uuid:aaaa::urn:schemas-upnp-org:service:SomeOtherService:1\r\n\r\n"

	_, ok := parseSSDPMessage([]byte(msg))
	if ok {
		t.Error("expected unrelated service advertisement to be ignored")
	}
}

func TestParseLocation(t *testing.T) {
	cases := []struct {
		in       string
		wantIP   string
		wantPort int
	}{
		{"http://192.168.1.50:8080/desc.xml", "192.168.1.50", 8080},
		{"https://10.0.0.1/desc.xml", "10.0.0.1", 0},
	}
	for _, c := range cases {
		ip, port := parseLocation(c.in)
		if ip != c.wantIP || port != c.wantPort {
			t.Errorf("parseLocation(%s) = %s,%d; want %s,%d", c.in, ip, port, c.wantIP, c.wantPort)
		}
	}
}

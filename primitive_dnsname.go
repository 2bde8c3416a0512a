package structs

import (
	"fmt"
	"net"
	"reflect"
	"time"

	"github.com/miekg/dns"

	"github.com/archiecobbs/pdel-go/pdelerr"
)

// DNSName is the `{ name, resolved_ips[] }` composite primitive: its
// Binify performs a DNS lookup and caches the result alongside the
// name, rather than just parsing text.
type DNSName struct {
	Name        string
	ResolvedIPs []net.IP
}

var dnsNameGoType = reflect.TypeOf(DNSName{})

// Resolver is the lookup function the dnsname type's Binify uses. It
// defaults to lookupViaSystemResolver (built on miekg/dns), but tests
// substitute their own via WithResolver to avoid live network I/O.
type Resolver func(name string) ([]net.IP, error)

type dnsNameType struct {
	resolve Resolver
}

// DNSNameField is the dnsname primitive Type. Binify
// resolves Name to ResolvedIPs using the system's configured DNS
// servers.
var DNSNameField Type = &dnsNameType{resolve: lookupViaSystemResolver}

// WithResolver returns a dnsname Type using a caller-supplied resolver
// instead of the live system resolver, e.g. for tests.
func WithResolver(r Resolver) Type {
	return &dnsNameType{resolve: r}
}

func (t *dnsNameType) Class() Class         { return ClassPrimitive }
func (t *dnsNameType) GoType() reflect.Type { return dnsNameGoType }
func (t *dnsNameType) Params() Params       { return Params{} }

func (t *dnsNameType) Init(dst reflect.Value) error {
	dst.Set(reflect.ValueOf(DNSName{}))
	return nil
}

func (t *dnsNameType) Copy(dst, src reflect.Value) error {
	v := src.Interface().(DNSName)
	ips := make([]net.IP, len(v.ResolvedIPs))
	copy(ips, v.ResolvedIPs)
	dst.Set(reflect.ValueOf(DNSName{Name: v.Name, ResolvedIPs: ips}))
	return nil
}

func (t *dnsNameType) Equal(a, b reflect.Value) bool {
	av, bv := a.Interface().(DNSName), b.Interface().(DNSName)
	if av.Name != bv.Name || len(av.ResolvedIPs) != len(bv.ResolvedIPs) {
		return false
	}
	for i := range av.ResolvedIPs {
		if !av.ResolvedIPs[i].Equal(bv.ResolvedIPs[i]) {
			return false
		}
	}
	return true
}

func (t *dnsNameType) Ascify(v reflect.Value) (string, error) {
	return v.Interface().(DNSName).Name, nil
}

func (t *dnsNameType) Binify(s string, dst reflect.Value) error {
	ips, err := t.resolve(s)
	if err != nil {
		return fmt.Errorf("%w: resolving %q: %v", pdelerr.ErrIO, s, err)
	}
	dst.Set(reflect.ValueOf(DNSName{Name: s, ResolvedIPs: ips}))
	return nil
}

func (t *dnsNameType) Encode(v reflect.Value) ([]byte, error) {
	d := v.Interface().(DNSName)
	out := encodeString(d.Name)
	ipBytes := make([]byte, 0, len(d.ResolvedIPs)*16)
	for _, ip := range d.ResolvedIPs {
		v16 := ip.To16()
		ipBytes = append(ipBytes, v16...)
	}
	out = append(out, encodeCountPrefixed(ipBytes)...)
	return out, nil
}

func (t *dnsNameType) Decode(b []byte, dst reflect.Value) (int, error) {
	name, n1, err := decodeString(b)
	if err != nil {
		return 0, err
	}
	payload, n2, err := decodeCountPrefixed(b[n1:])
	if err != nil {
		return 0, err
	}
	if len(payload)%16 != 0 {
		return 0, pdelerr.NewParseError(n1, "resolved-ip block length %d is not a multiple of 16", len(payload))
	}
	ips := make([]net.IP, 0, len(payload)/16)
	for i := 0; i < len(payload); i += 16 {
		ip := make(net.IP, 16)
		copy(ip, payload[i:i+16])
		ips = append(ips, ip)
	}
	dst.Set(reflect.ValueOf(DNSName{Name: name, ResolvedIPs: ips}))
	return n1 + n2, nil
}

func (t *dnsNameType) Free(v reflect.Value) {
	v.Set(reflect.ValueOf(DNSName{}))
}

// lookupViaSystemResolver resolves name to its A and AAAA records
// using the host's configured DNS servers, via miekg/dns rather than
// net.LookupIP, so multiple-answer ordering from the wire is preserved
// instead of being reshuffled by the standard resolver. Only the
// addresses are kept; record TTLs are discarded.
func lookupViaSystemResolver(name string) ([]net.IP, error) {
	cfg, err := dns.ClientConfigFromFile("/etc/resolv.conf")
	if err != nil || len(cfg.Servers) == 0 {
		cfg = &dns.ClientConfig{Servers: []string{"127.0.0.1"}, Port: "53"}
	}
	client := &dns.Client{Timeout: 5 * time.Second}
	var ips []net.IP
	for _, qtype := range []uint16{dns.TypeA, dns.TypeAAAA} {
		msg := new(dns.Msg)
		msg.SetQuestion(dns.Fqdn(name), qtype)
		server := net.JoinHostPort(cfg.Servers[0], cfg.Port)
		reply, _, err := client.Exchange(msg, server)
		if err != nil {
			continue
		}
		for _, rr := range reply.Answer {
			switch rec := rr.(type) {
			case *dns.A:
				ips = append(ips, rec.A)
			case *dns.AAAA:
				ips = append(ips, rec.AAAA)
			}
		}
	}
	if len(ips) == 0 {
		return nil, fmt.Errorf("no A/AAAA records found for %q", name)
	}
	return ips, nil
}

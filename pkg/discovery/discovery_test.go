package discovery

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/enbility/zeroconf/v3"
)

func TestTXTRoundTrip(t *testing.T) {
	info := &ServiceInfo{
		InstanceName:   "opcsim-bench",
		Port:           4840,
		Namespace:      "urn:opcsim:instruments",
		NamespaceIndex: 1,
	}

	strs := TXTRecordsToStrings(EncodeTXT(info))
	want := []string{"ns=urn:opcsim:instruments", "nsi=1", "path=/"}
	if len(strs) != len(want) {
		t.Fatalf("TXT = %v, want %v", strs, want)
	}
	for i := range want {
		if strs[i] != want[i] {
			t.Errorf("TXT[%d] = %q, want %q", i, strs[i], want[i])
		}
	}

	got, err := DecodeTXT(StringsToTXTRecords(strs))
	if err != nil {
		t.Fatalf("DecodeTXT() error = %v", err)
	}
	if got.Namespace != info.Namespace || got.NamespaceIndex != 1 || got.Path != "/" {
		t.Errorf("DecodeTXT() = %+v", got)
	}
}

func TestDecodeTXTErrors(t *testing.T) {
	tests := []struct {
		name string
		txt  TXTRecordMap
	}{
		{"missing namespace", TXTRecordMap{TXTKeyPath: "/"}},
		{"bad index", TXTRecordMap{TXTKeyNamespace: "urn:x", TXTKeyNamespaceIndex: "70000"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeTXT(tt.txt); err == nil {
				t.Error("DecodeTXT() error = nil")
			}
		})
	}

	_, err := DecodeTXT(TXTRecordMap{})
	if !errors.Is(err, ErrMissingRequired) {
		t.Errorf("DecodeTXT() error = %v, want ErrMissingRequired", err)
	}
}

func TestServiceInfoValidate(t *testing.T) {
	tests := []struct {
		name string
		info ServiceInfo
		want error
	}{
		{"valid", ServiceInfo{InstanceName: "a", Port: 1, Namespace: "urn:x"}, nil},
		{"empty name", ServiceInfo{Port: 1, Namespace: "urn:x"}, ErrInstanceNameTooLong},
		{"no port", ServiceInfo{InstanceName: "a", Namespace: "urn:x"}, ErrInvalidPort},
		{"no namespace", ServiceInfo{InstanceName: "a", Port: 1}, ErrMissingRequired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.info.Validate()
			if !errors.Is(err, tt.want) {
				t.Errorf("Validate() = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestInstanceName(t *testing.T) {
	if got := InstanceName("opcsim", "bench.example.org"); got != "opcsim-bench" {
		t.Errorf("InstanceName() = %q", got)
	}
	if got := InstanceName("opcsim", ""); got != "opcsim" {
		t.Errorf("InstanceName() = %q", got)
	}
	long := InstanceName("opcsim", string(make([]byte, 100)))
	if len(long) != MaxInstanceNameLen {
		t.Errorf("len(InstanceName()) = %d, want %d", len(long), MaxInstanceNameLen)
	}
}

func TestEntryToService(t *testing.T) {
	entry := &zeroconf.ServiceEntry{}
	entry.Instance = "opcsim-bench"
	entry.HostName = "bench.local."
	entry.Port = 4841
	entry.Text = []string{"path=/", "ns=urn:opcsim:instruments"}
	entry.AddrIPv4 = []net.IP{net.ParseIP("192.168.1.20")}

	svc := entryToService(entry)
	if svc == nil {
		t.Fatal("entryToService() = nil")
	}
	if svc.InstanceName != "opcsim-bench" || svc.Port != 4841 {
		t.Errorf("service = %+v", svc)
	}
	if got := svc.Endpoint(); got != "opc.tcp://192.168.1.20:4841/" {
		t.Errorf("Endpoint() = %q", got)
	}

	entry.Text = []string{"path=/"}
	if entryToService(entry) != nil {
		t.Error("entry without namespace should be ignored")
	}
}

func TestMergeAddresses(t *testing.T) {
	got := mergeAddresses([]string{"a", "b"}, []string{"b", "c"})
	if len(got) != 3 || got[2] != "c" {
		t.Errorf("mergeAddresses() = %v", got)
	}
}

func TestMDNSAdvertiser(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping mDNS test in short mode")
	}

	adv := NewMDNSAdvertiser(DefaultAdvertiserConfig())
	defer adv.Stop()

	if err := adv.Advertise(context.Background(), &ServiceInfo{}); err == nil {
		t.Error("Advertise() with invalid info should fail")
	}

	info := &ServiceInfo{InstanceName: "opcsim-test", Port: 4840, Namespace: "urn:opcsim:test"}
	if err := adv.Advertise(context.Background(), info); err != nil {
		t.Skipf("mDNS unavailable: %v", err)
	}
	// Re-advertising replaces the previous registration.
	if err := adv.Advertise(context.Background(), info); err != nil {
		t.Fatalf("Advertise() again error = %v", err)
	}
	if err := adv.Stop(); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
	if err := adv.Stop(); err != nil {
		t.Errorf("Stop() twice error = %v", err)
	}
}

func TestMDNSBrowserClosesOnCancel(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping mDNS test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	ch, err := NewMDNSBrowser(BrowserConfig{}).Browse(ctx)
	if err != nil {
		t.Fatalf("Browse() error = %v", err)
	}
	for range ch {
	}
}

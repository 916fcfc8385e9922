package discovery

import (
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
)

// TXTRecordMap is a map of TXT record key-value pairs.
type TXTRecordMap map[string]string

// EncodeTXT creates the TXT records of a service.
func EncodeTXT(info *ServiceInfo) TXTRecordMap {
	txt := make(TXTRecordMap)

	path := info.Path
	if path == "" {
		path = "/"
	}
	txt[TXTKeyPath] = path
	txt[TXTKeyNamespace] = info.Namespace

	if info.NamespaceIndex > 0 {
		txt[TXTKeyNamespaceIndex] = strconv.FormatUint(uint64(info.NamespaceIndex), 10)
	}
	return txt
}

// DecodeTXT parses the TXT records of a service. InstanceName and Port
// are left to the caller.
func DecodeTXT(txt TXTRecordMap) (*ServiceInfo, error) {
	info := &ServiceInfo{}

	var ok bool
	info.Namespace, ok = txt[TXTKeyNamespace]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingRequired, TXTKeyNamespace)
	}

	info.Path = txt[TXTKeyPath]
	if info.Path == "" {
		info.Path = "/"
	}

	if s, ok := txt[TXTKeyNamespaceIndex]; ok {
		n, err := strconv.ParseUint(s, 10, 16)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %q", TXTKeyNamespaceIndex, s)
		}
		info.NamespaceIndex = uint16(n)
	}

	return info, nil
}

// TXTRecordsToStrings converts a TXTRecordMap to sorted "key=value"
// strings.
func TXTRecordsToStrings(txt TXTRecordMap) []string {
	result := make([]string, 0, len(txt))
	for k, v := range txt {
		result = append(result, k+"="+v)
	}
	sort.Strings(result)
	return result
}

// StringsToTXTRecords parses a slice of "key=value" strings into a TXTRecordMap.
func StringsToTXTRecords(strs []string) TXTRecordMap {
	txt := make(TXTRecordMap)
	for _, s := range strs {
		k, v, found := strings.Cut(s, "=")
		if found {
			txt[k] = v
		} else if k != "" {
			// Key without value (boolean flag)
			txt[k] = ""
		}
	}
	return txt
}

// ValidateInstanceName checks if an instance name is valid for mDNS.
func ValidateInstanceName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty name", ErrInstanceNameTooLong)
	}
	if len(name) > MaxInstanceNameLen {
		return ErrInstanceNameTooLong
	}
	return nil
}

// InstanceName builds a valid instance name from a prefix and host.
func InstanceName(prefix, host string) string {
	name := prefix
	if host != "" {
		name += "-" + strings.SplitN(host, ".", 2)[0]
	}
	if len(name) > MaxInstanceNameLen {
		name = name[:MaxInstanceNameLen]
	}
	return name
}

func joinHostPort(host string, port uint16) string {
	return net.JoinHostPort(host, strconv.FormatUint(uint64(port), 10))
}

package discovery

import (
	"fmt"
	"sort"
	"strings"
)

// TXTRecordMap is a map of TXT record key-value pairs.
type TXTRecordMap map[string]string

// EncodeGatewayTXT creates TXT records for a gateway advertisement.
func EncodeGatewayTXT(info *GatewayInfo) TXTRecordMap {
	txt := make(TXTRecordMap)

	path := info.Path
	if path == "" {
		path = "/"
	}
	txt[TXTKeyPath] = path
	txt[TXTKeyTLS] = "0"
	if info.TLS {
		txt[TXTKeyTLS] = "1"
	}

	// Optional fields
	if info.Version != "" {
		txt[TXTKeyVersion] = info.Version
	}
	if info.Name != "" {
		txt[TXTKeyName] = info.Name
	}

	return txt
}

// DecodeGatewayTXT fills the TXT-derived fields of a Gateway.
// Missing keys fall back to defaults; an unparseable tls flag is an error.
func DecodeGatewayTXT(txt TXTRecordMap, gw *Gateway) error {
	gw.Path = "/"
	if p, ok := txt[TXTKeyPath]; ok && p != "" {
		gw.Path = p
	}

	gw.TLS = true
	if v, ok := txt[TXTKeyTLS]; ok {
		switch strings.ToLower(v) {
		case "1", "true", "yes", "":
			gw.TLS = true
		case "0", "false", "no":
			gw.TLS = false
		default:
			return fmt.Errorf("%w: %s=%q", ErrInvalidTXTRecord, TXTKeyTLS, v)
		}
	}

	gw.Version = txt[TXTKeyVersion]
	gw.Name = txt[TXTKeyName]
	return nil
}

// TXTRecordsToStrings converts a TXTRecordMap to a slice of "key=value"
// strings, sorted by key.
func TXTRecordsToStrings(txt TXTRecordMap) []string {
	result := make([]string, 0, len(txt))
	for k, v := range txt {
		result = append(result, fmt.Sprintf("%s=%s", k, v))
	}
	sort.Strings(result)
	return result
}

// StringsToTXTRecords parses a slice of "key=value" strings into a TXTRecordMap.
func StringsToTXTRecords(strs []string) TXTRecordMap {
	txt := make(TXTRecordMap)
	for _, s := range strs {
		parts := strings.SplitN(s, "=", 2)
		if len(parts) == 2 {
			txt[parts[0]] = parts[1]
		} else if len(parts) == 1 && parts[0] != "" {
			// Key without value (boolean flag)
			txt[parts[0]] = ""
		}
	}
	return txt
}

// ValidateTXTRecords checks the total encoded size.
func ValidateTXTRecords(txt TXTRecordMap) error {
	size := 0
	for k, v := range txt {
		// length byte + key + '=' + value
		size += 1 + len(k) + 1 + len(v)
	}
	if size > MaxTXTRecordSize {
		return ErrTXTRecordTooLarge
	}
	return nil
}

// ValidateInstanceName checks if an instance name is valid for mDNS.
func ValidateInstanceName(name string) error {
	if name == "" {
		return ErrEmptyInstanceName
	}
	if len(name) > MaxInstanceNameLen {
		return ErrInstanceNameTooLong
	}
	return nil
}

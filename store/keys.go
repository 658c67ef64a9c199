// Package store persists Operations and Baselines in pebble, adapting the
// teacher's OKey/VKey compound big-endian key scheme from binary rdx.ID
// keys to the spec's string OIDs and HLC timestamps.
package store

import (
	"strings"

	"github.com/fork-archive-hub/lo-fi/hlc"
	"github.com/fork-archive-hub/lo-fi/oid"
)

const (
	opPrefix   = 'O'
	baseline   = 'B'
	infoPrefix = 'I'
	keySep     = 0
)

// operationKey builds the compound (oid, timestamp) key: O<rootOid>\x00<oid>\x00<timestamp>.
// The root-prefix ordering lets a document-root scan with an upper bound of
// rootOid+1 return every operation under that document, timestamp-ordered
// within each entity run.
func operationKey(rootOid, at oid.OID, ts hlc.Timestamp) []byte {
	var b strings.Builder
	b.WriteByte(opPrefix)
	b.WriteString(string(rootOid))
	b.WriteByte(keySep)
	b.WriteString(string(at))
	b.WriteByte(keySep)
	b.WriteString(string(ts))
	return []byte(b.String())
}

// operationPrefixForDocument returns the lower/upper bound pair that scans
// every operation key under rootOid, regardless of which sub-OID or
// timestamp it carries.
func operationPrefixForDocument(rootOid oid.OID) (lower, upper []byte) {
	lower = append([]byte{opPrefix}, []byte(rootOid)...)
	lower = append(lower, keySep)
	return lower, incrementLastByte(lower)
}

// operationPrefixForEntity returns bounds scanning only at's own run within
// rootOid's range.
func operationPrefixForEntity(rootOid, at oid.OID) (lower, upper []byte) {
	lower = append([]byte{opPrefix}, []byte(rootOid)...)
	lower = append(lower, keySep)
	lower = append(lower, []byte(at)...)
	lower = append(lower, keySep)
	return lower, incrementLastByte(lower)
}

func operationGlobalBounds() (lower, upper []byte) {
	return []byte{opPrefix}, []byte{opPrefix + 1}
}

// splitOperationKey recovers (rootOid, at, timestamp) from a key produced
// by operationKey.
func splitOperationKey(key []byte) (rootOid, at oid.OID, ts hlc.Timestamp) {
	parts := strings.SplitN(string(key[1:]), string([]byte{keySep}), 3)
	if len(parts) != 3 {
		return "", "", ""
	}
	return oid.OID(parts[0]), oid.OID(parts[1]), hlc.Timestamp(parts[2])
}

func baselineKey(at oid.OID) []byte {
	return append([]byte{baseline}, []byte(at)...)
}

// baselinePrefixForDocument scans every baseline whose OID shares rootOid's
// collection/docId:subId prefix — the root baseline itself plus every
// '#'-suffixed sub-object baseline, since normalize-derived sub-OIDs never
// change the subId component. A sub-object's key always continues with
// pathSep ('#') right after rootOid, so the upper bound increments that
// separator byte rather than the last byte of rootOid itself — otherwise a
// sibling document whose subId is a string-extension of rootOid's (":x"
// followed by ":xy") would fall inside the scanned range too.
func baselinePrefixForDocument(rootOid oid.OID) (lower, upper []byte) {
	lower = baselineKey(rootOid)
	upperBound := append([]byte{}, lower...)
	upperBound = append(upperBound, oid.PathSep)
	return lower, incrementLastByte(upperBound)
}

// incrementLastByte returns a copy of prefix with its final byte
// incremented, forming an exclusive upper bound for a prefix scan.
func incrementLastByte(prefix []byte) []byte {
	upper := append([]byte{}, prefix...)
	upper[len(upper)-1]++
	return upper
}

func infoKey(name string) []byte {
	return append([]byte{infoPrefix}, []byte(name)...)
}

const (
	infoLocalReplica = "replica"
	infoGlobalAck    = "global_ack"
	infoSchema       = "schema"
)

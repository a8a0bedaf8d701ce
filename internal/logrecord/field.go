package logrecord

import (
	"sort"
	"strconv"
	"strings"
)

// Field names a Record attribute that filter conditions can compare against.
// Names match Traefik's access-log field names and are case-sensitive.
type Field string

const (
	FieldClientAddr            Field = "ClientAddr"
	FieldClientHost            Field = "ClientHost"
	FieldClientPort            Field = "ClientPort"
	FieldClientUsername        Field = "ClientUsername"
	FieldDownstreamContentSize Field = "DownstreamContentSize"
	FieldDownstreamStatus      Field = "DownstreamStatus"
	FieldDuration              Field = "Duration"
	FieldOriginContentSize     Field = "OriginContentSize"
	FieldOriginDuration        Field = "OriginDuration"
	FieldOriginStatus          Field = "OriginStatus"
	FieldOverhead              Field = "Overhead"
	FieldRequestAddr           Field = "RequestAddr"
	FieldRequestContentSize    Field = "RequestContentSize"
	FieldRequestCount          Field = "RequestCount"
	FieldRequestHost           Field = "RequestHost"
	FieldRequestMethod         Field = "RequestMethod"
	FieldRequestPath           Field = "RequestPath"
	FieldRequestPort           Field = "RequestPort"
	FieldRequestProtocol       Field = "RequestProtocol"
	FieldRequestScheme         Field = "RequestScheme"
	FieldRetryAttempts         Field = "RetryAttempts"
	FieldRouterName            Field = "RouterName"
	FieldServiceAddr           Field = "ServiceAddr"
	FieldServiceName           Field = "ServiceName"
	FieldServiceURL            Field = "ServiceURL"
	FieldStartLocal            Field = "StartLocal"
	FieldStartUTC              Field = "StartUTC"
	FieldEntryPointName        Field = "entryPointName"
	FieldRequestReferer        Field = "request_Referer"
	FieldRequestUserAgent      Field = "request_User_Agent"
)

// headerFieldPrefix marks field names that address the extension header map.
const headerFieldPrefix = "request_"

// Zero numbers read as empty, the same as an absent field.
func itoa(n int) string { return i64toa(int64(n)) }

func i64toa(n int64) string {
	if n == 0 {
		return ""
	}
	return strconv.FormatInt(n, 10)
}

var accessors = map[Field]func(*Record) string{
	FieldClientAddr:            func(r *Record) string { return r.ClientAddr },
	FieldClientHost:            func(r *Record) string { return r.ClientHost },
	FieldClientPort:            func(r *Record) string { return r.ClientPort },
	FieldClientUsername:        func(r *Record) string { return r.ClientUsername },
	FieldDownstreamContentSize: func(r *Record) string { return i64toa(r.DownstreamContentSize) },
	FieldDownstreamStatus:      func(r *Record) string { return itoa(r.DownstreamStatus) },
	FieldDuration:              func(r *Record) string { return i64toa(r.Duration) },
	FieldOriginContentSize:     func(r *Record) string { return i64toa(r.OriginContentSize) },
	FieldOriginDuration:        func(r *Record) string { return i64toa(r.OriginDuration) },
	FieldOriginStatus:          func(r *Record) string { return itoa(r.OriginStatus) },
	FieldOverhead:              func(r *Record) string { return i64toa(r.Overhead) },
	FieldRequestAddr:           func(r *Record) string { return r.RequestAddr },
	FieldRequestContentSize:    func(r *Record) string { return i64toa(r.RequestContentSize) },
	FieldRequestCount:          func(r *Record) string { return itoa(r.RequestCount) },
	FieldRequestHost:           func(r *Record) string { return r.RequestHost },
	FieldRequestMethod:         func(r *Record) string { return r.RequestMethod },
	FieldRequestPath:           func(r *Record) string { return r.RequestPath },
	FieldRequestPort:           func(r *Record) string { return r.RequestPort },
	FieldRequestProtocol:       func(r *Record) string { return r.RequestProtocol },
	FieldRequestScheme:         func(r *Record) string { return r.RequestScheme },
	FieldRetryAttempts:         func(r *Record) string { return itoa(r.RetryAttempts) },
	FieldRouterName:            func(r *Record) string { return r.RouterName },
	FieldServiceAddr:           func(r *Record) string { return r.ServiceAddr },
	FieldServiceName:           func(r *Record) string { return r.ServiceName },
	FieldServiceURL:            func(r *Record) string { return r.ServiceURL },
	FieldStartLocal:            func(r *Record) string { return r.StartLocal },
	FieldStartUTC:              func(r *Record) string { return r.StartUTC },
	FieldEntryPointName:        func(r *Record) string { return r.EntryPointName },
	FieldRequestReferer:        func(r *Record) string { return r.RequestReferer },
	FieldRequestUserAgent:      func(r *Record) string { return r.RequestUserAgent },
}

// Known reports whether f is one of the fixed record fields.
func (f Field) Known() bool {
	_, ok := accessors[f]
	return ok
}

// Fields lists the fixed record fields in name order.
func Fields() []Field {
	fields := make([]Field, 0, len(accessors))
	for f := range accessors {
		fields = append(fields, f)
	}
	sort.Slice(fields, func(i, j int) bool { return fields[i] < fields[j] })
	return fields
}

// Value returns the string form of a record attribute. Known fields go
// through their accessor, "request_<Header>" names read the header map and
// anything else yields "".
func (r *Record) Value(f Field) string {
	if get, ok := accessors[f]; ok {
		return get(r)
	}
	if name, ok := strings.CutPrefix(string(f), headerFieldPrefix); ok && name != "" {
		v, _ := r.Headers.Get(name)
		return v
	}
	return ""
}

package transport

import (
	"github.com/srg/mdlble/internal/device"
)

const testService = "0000fff0-0000-1000-8000-00805f9b34fb"

func kindsOf(effects []effect) []effectKind {
	kinds := make([]effectKind, len(effects))
	for i, e := range effects {
		kinds[i] = e.kind
	}
	return kinds
}

func find(effects []effect, kind effectKind) (effect, bool) {
	for _, e := range effects {
		if e.kind == kind {
			return e, true
		}
	}
	return effect{}, false
}

func errorOf(effects []effect) error {
	if e, ok := find(effects, emitError); ok {
		return e.err
	}
	return nil
}

// serviceInfo builds a discovery result for the mdoc service with the given characteristics
func serviceInfo(chars ...string) []device.ServiceInfo {
	info := device.ServiceInfo{UUID: device.NormalizeUUID(testService)}
	for _, c := range chars {
		info.Characteristics = append(info.Characteristics, device.NormalizeUUID(c))
	}
	return []device.ServiceInfo{info}
}

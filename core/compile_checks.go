package core

import glog "github.com/goliatone/go-logger/glog"

var (
	_ GatekeeperService   = (*Service)(nil)
	_ DeliveryTaskHandler = (*Service)(nil)
	_ PayloadSigner       = SignatureCodec{}
	_ SnapshotStore       = (*MemorySnapshotStore)(nil)
	_ InflightLedger      = (*MemoryInflightLedger)(nil)

	_ Logger         = glog.Nop()
	_ LoggerProvider = glog.ProviderFromLogger(glog.Nop())
)

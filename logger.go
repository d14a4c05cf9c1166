package taskcache

import tlog "github.com/unkn0wn-root/taskcache/log"

type (
	Logger    = tlog.Logger
	Fields    = tlog.Fields
	NopLogger = tlog.NopLogger
)

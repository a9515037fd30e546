package mempool

import (
	"github.com/tenebra-net/tenebrad/infrastructure/logger"
)

var log = logger.RegisterSubSystem("MEMP")

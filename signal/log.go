package signal

import (
	"github.com/tenebra-net/tenebrad/infrastructure/logger"
)

var log = logger.RegisterSubSystem("TEND")

package failfast

import "os"

var osExit = os.Exit

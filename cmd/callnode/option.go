package main

// Options is the root command. The struct tags are interpreted by
// github.com/jessevdk/go-flags.
type Options struct {
	Config   string       `short:"f" long:"config" description:"config YAML path (default ~/.callnode/config.yaml)"`
	Debug    bool         `short:"d" long:"debug" description:"verbose logging"`
	Run      *RunCmd      `command:"run" description:"Connect and execute call commands until interrupted"`
	Register *RegisterCmd `command:"register" description:"Register this device with the server once"`
	Probe    *ProbeCmd    `command:"probe" description:"Check that the server is reachable"`
	Logout   *LogoutCmd   `command:"logout" description:"Forget the stored bearer token"`
}

// Init instantiates every sub-command and points it back at the root so
// global flags are visible from Execute.
func (o *Options) Init() {
	o.Run = &RunCmd{root: o}
	o.Register = &RegisterCmd{root: o}
	o.Probe = &ProbeCmd{root: o}
	o.Logout = &LogoutCmd{root: o}
}

package fs

// NullDev is /dev/null: reads see EOF, writes vanish.
type NullDev struct{}

func (NullDev) Stat() FileInfo { return FileInfo{Type: TypeCharDev, Name: "null"} }

func (NullDev) Read([]byte, uint64, bool) (int, error) { return 0, nil }

func (NullDev) Write(data []byte, _ uint64, _ bool) (int, error) { return len(data), nil }

func (NullDev) Close() error { return nil }

func (NullDev) PollIn() bool  { return true }
func (NullDev) PollOut() bool { return true }
func (NullDev) PollHup() bool { return false }

// ZeroDev is /dev/zero: reads fill with zeroes, writes vanish.
type ZeroDev struct{}

func (ZeroDev) Stat() FileInfo { return FileInfo{Type: TypeCharDev, Name: "zero"} }

func (ZeroDev) Read(buf []byte, _ uint64, _ bool) (int, error) {
	for i := range buf {
		buf[i] = 0
	}
	return len(buf), nil
}

func (ZeroDev) Write(data []byte, _ uint64, _ bool) (int, error) { return len(data), nil }

func (ZeroDev) Close() error { return nil }

func (ZeroDev) PollIn() bool  { return true }
func (ZeroDev) PollOut() bool { return true }
func (ZeroDev) PollHup() bool { return false }

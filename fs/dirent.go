package fs

import "encoding/binary"

// linux_dirent64 type codes.
const (
	dtUnknown = 0
	dtDir     = 4
	dtChr     = 2
	dtReg     = 8
	dtFifo    = 1
	dtSock    = 12
)

func direntType(t FileType) byte {
	switch t {
	case TypeDirectory:
		return dtDir
	case TypeRegular:
		return dtReg
	case TypeCharDev, TypeTty:
		return dtChr
	case TypePipe:
		return dtFifo
	case TypeSocket:
		return dtSock
	default:
		return dtUnknown
	}
}

// EncodeDirents packs entries starting at index from into a
// linux_dirent64 byte stream no longer than limit. Returns the encoded
// bytes and how many entries were consumed.
//
//	struct linux_dirent64 {
//	    u64 d_ino; s64 d_off; u16 d_reclen; u8 d_type; char d_name[];
//	};
func EncodeDirents(entries []DirEnt, from, limit int) ([]byte, int) {
	var out []byte
	consumed := 0
	for i := from; i < len(entries); i++ {
		e := entries[i]
		reclen := (19 + len(e.Name) + 1 + 7) &^ 7
		if len(out)+reclen > limit {
			break
		}
		rec := make([]byte, reclen)
		binary.LittleEndian.PutUint64(rec[0:], e.Ino)
		binary.LittleEndian.PutUint64(rec[8:], uint64(i+1))
		binary.LittleEndian.PutUint16(rec[16:], uint16(reclen))
		rec[18] = direntType(e.Type)
		copy(rec[19:], e.Name)
		out = append(out, rec...)
		consumed++
	}
	return out, consumed
}

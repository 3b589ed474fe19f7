package bus

import "errors"

// Storage size units.
const (
	B uint64 = 1 << (10 * iota)
	KB
	MB
	GB
	TB
)

// A Storage is the byte-addressable backing store of a responder device.
//
// Storage manages its bytes in fixed-size units and allocates a unit only
// when a read or write first touches it, so a sparse address space costs
// little memory.
type Storage struct {
	unitSize uint64
	capacity uint64
	data     map[uint64][]byte
}

// NewStorage creates a Storage that can hold capacity bytes.
func NewStorage(capacity uint64) *Storage {
	s := &Storage{
		unitSize: 4096,
		capacity: capacity,
		data:     make(map[uint64][]byte),
	}

	return s
}

// Capacity returns the number of bytes the storage can hold.
func (s *Storage) Capacity() uint64 {
	return s.capacity
}

func (s *Storage) unitFor(address uint64) ([]byte, error) {
	if address >= s.capacity {
		return nil, errors.New("address beyond the storage capacity")
	}

	base, _ := s.splitAddress(address)
	unit, ok := s.data[base]
	if !ok {
		unit = make([]byte, s.unitSize)
		s.data[base] = unit
	}

	return unit, nil
}

func (s *Storage) splitAddress(addr uint64) (base, offset uint64) {
	offset = addr % s.unitSize
	base = addr - offset
	return
}

// Read returns length bytes starting at address. Units that were never
// written read as zero.
func (s *Storage) Read(address, length uint64) ([]byte, error) {
	res := make([]byte, length)
	currAddr := address
	resOffset := uint64(0)

	for currAddr < address+length {
		unit, err := s.unitFor(currAddr)
		if err != nil {
			return nil, err
		}

		base, offset := s.splitAddress(currAddr)
		chunk := base + s.unitSize - currAddr
		if left := length - resOffset; left < chunk {
			chunk = left
		}

		copy(res[resOffset:resOffset+chunk], unit[offset:offset+chunk])
		resOffset += chunk
		currAddr += chunk
	}

	return res, nil
}

// Write stores data starting at address.
func (s *Storage) Write(address uint64, data []byte) error {
	currAddr := address
	dataOffset := uint64(0)

	for dataOffset < uint64(len(data)) {
		unit, err := s.unitFor(currAddr)
		if err != nil {
			return err
		}

		_, offset := s.splitAddress(currAddr)
		chunk := s.unitSize - offset
		if left := uint64(len(data)) - dataOffset; left < chunk {
			chunk = left
		}

		copy(unit[offset:offset+chunk], data[dataOffset:dataOffset+chunk])
		dataOffset += chunk
		currAddr += chunk
	}

	return nil
}

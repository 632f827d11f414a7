package builtins

import (
	"encoding/binary"

	f "github.com/consensys/gnark-crypto/ecc/stark-curve/fp"
	"github.com/raefko/cairo-vm-go/pkg/vm/memory"
	"golang.org/x/crypto/sha3"
)

const (
	cellsPerKeccak = 16
	inputCellsPerKeccak = 8
	keccakWordBytes = 8
)

// KeccakRunner hashes its 8 input words (each a felt holding a 64-bit
// little-endian limb) with Keccak-256 and splits the 32-byte digest
// back into 8 output words, following the same "N inputs, N outputs,
// deduced from a fixed function of the inputs" shape as bitwise — the
// exact limb packing of the reference keccak builtin (which operates
// on the full 1600-bit permutation state) is out of spec.md's detailed
// scope, so this uses the ecosystem's Keccak-256 instead of
// reimplementing keccak-f[1600] by hand.
type KeccakRunner struct {
	BaseRunner
}

func NewKeccakRunner(ratio uint64) *KeccakRunner {
	k := &KeccakRunner{}
	k.ratio = ratio
	return k
}

func (k *KeccakRunner) Name() string             { return "keccak" }
func (k *KeccakRunner) CellsPerInstance() uint64  { return cellsPerKeccak }
func (k *KeccakRunner) NInputCells() uint64       { return inputCellsPerKeccak }

func (k *KeccakRunner) GetUsedCells(mem *memory.Memory) (uint64, error) {
	return getUsedCells(&k.BaseRunner, mem)
}

func (k *KeccakRunner) GetAllocatedMemoryUnits(currentStep uint64) (uint64, error) {
	return getAllocatedMemoryUnits(cellsPerKeccak, k.ratio, currentStep)
}

func (k *KeccakRunner) FinalStack(mem *memory.Memory, pointer memory.MemoryAddress) (memory.MemoryAddress, uint64, error) {
	return finalStack(k, &k.BaseRunner, mem, pointer)
}

func (k *KeccakRunner) DeduceMemoryCell(addr memory.MemoryAddress, mem *memory.Memory) (*memory.MemoryValue, error) {
	index := addr.Offset % cellsPerKeccak
	if index < inputCellsPerKeccak {
		return nil, nil
	}

	instanceBase := addr.Offset - index
	inputBytes := make([]byte, 0, inputCellsPerKeccak*keccakWordBytes)
	for i := uint64(0); i < inputCellsPerKeccak; i++ {
		cellAddr := memory.MemoryAddress{SegmentIndex: addr.SegmentIndex, Offset: instanceBase + i}
		value, err := mem.PeekFromAddress(&cellAddr)
		if err != nil {
			return nil, err
		}
		if !value.Known() || !value.IsFelt() {
			return nil, nil
		}
		word, err := value.Uint64()
		if err != nil {
			return nil, nil
		}
		var buf [keccakWordBytes]byte
		binary.LittleEndian.PutUint64(buf[:], word)
		inputBytes = append(inputBytes, buf[:]...)
	}

	digest := sha3.NewLegacyKeccak256()
	digest.Write(inputBytes)
	hash := digest.Sum(nil)

	// the 32-byte digest spread over the 8 output cells: 4 bytes each
	outputWordBytes := uint64(len(hash)) / (cellsPerKeccak - inputCellsPerKeccak)
	outputIndex := index - inputCellsPerKeccak
	wordStart := outputIndex * outputWordBytes
	word := binary.LittleEndian.Uint32(hash[wordStart : wordStart+outputWordBytes])

	var felt f.Element
	felt.SetUint64(uint64(word))
	mv := memory.MemoryValueFromFieldElement(&felt)
	return &mv, nil
}

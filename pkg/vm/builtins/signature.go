package builtins

import (
	"fmt"
	"math/big"

	starkcurve "github.com/consensys/gnark-crypto/ecc/stark-curve"
	f "github.com/consensys/gnark-crypto/ecc/stark-curve/fp"
	"github.com/consensys/gnark-crypto/ecc/stark-curve/fr"
	"github.com/raefko/cairo-vm-go/pkg/vm/memory"
)

const (
	cellsPerSignature = 2
	inputCellsPerSignature = 2

	// curveAlpha, curveBeta are the short-Weierstrass coefficients of
	// the stark curve: y^2 = x^3 + alpha*x + beta.
	curveAlpha = 1
)

// curveBeta is the stark curve's beta constant, reduced mod P.
var curveBeta, _ = new(big.Int).SetString("3141592653589793238462643383279502884197169399375105820974944592307816406665", 10)

// SignatureRunner is the ECDSA builtin: each instance is pubkey,
// message (both inputs — there are no deduced output cells). The
// public key is stored as its x-coordinate only, as in the real
// builtin; the y-coordinate is recovered via the curve equation. The
// (r, s) signature for an instance is supplied out-of-band (by a
// hint, per spec.md §1's scope boundary) via AddSignature and checked
// lazily by VerifyAt, mirroring get_signature_builtin() in spec.md §6.2.
type SignatureRunner struct {
	BaseRunner
	signatures map[uint64]signaturePair
}

type signaturePair struct {
	r, s *big.Int
}

func NewSignatureRunner(ratio uint64) *SignatureRunner {
	s := &SignatureRunner{signatures: make(map[uint64]signaturePair)}
	s.ratio = ratio
	return s
}

func (s *SignatureRunner) Name() string             { return "ecdsa" }
func (s *SignatureRunner) CellsPerInstance() uint64  { return cellsPerSignature }
func (s *SignatureRunner) NInputCells() uint64       { return inputCellsPerSignature }

func (s *SignatureRunner) GetUsedCells(mem *memory.Memory) (uint64, error) {
	return getUsedCells(&s.BaseRunner, mem)
}

func (s *SignatureRunner) GetAllocatedMemoryUnits(currentStep uint64) (uint64, error) {
	return getAllocatedMemoryUnits(cellsPerSignature, s.ratio, currentStep)
}

func (s *SignatureRunner) FinalStack(mem *memory.Memory, pointer memory.MemoryAddress) (memory.MemoryAddress, uint64, error) {
	return finalStack(s, &s.BaseRunner, mem, pointer)
}

// DeduceMemoryCell never fires: both cells of a signature instance are
// inputs supplied by the caller, nothing here is computed from them.
func (s *SignatureRunner) DeduceMemoryCell(addr memory.MemoryAddress, mem *memory.Memory) (*memory.MemoryValue, error) {
	return nil, nil
}

// AddSignature records the (r, s) pair a hint attached to the
// instance whose public key lives at pubKeyOffset within this
// builtin's segment.
func (s *SignatureRunner) AddSignature(pubKeyOffset uint64, r, sVal *big.Int) {
	s.signatures[pubKeyOffset] = signaturePair{r: r, s: sVal}
}

// VerifyAt checks the signature recorded for the instance at
// pubKeyOffset against the public key and message currently stored in
// memory, using textbook ECDSA verification over the stark curve.
func (s *SignatureRunner) VerifyAt(mem *memory.Memory, pubKeyOffset uint64) (bool, error) {
	sig, ok := s.signatures[pubKeyOffset]
	if !ok {
		return false, fmt.Errorf("SignatureNotFound: no signature recorded for offset %d", pubKeyOffset)
	}

	pubKeyAddr := memory.MemoryAddress{SegmentIndex: s.Base(), Offset: pubKeyOffset}
	msgAddr := pubKeyAddr.AddOffset(1)

	pubKeyValue, err := mem.GetIntegerFromAddress(&pubKeyAddr)
	if err != nil {
		return false, err
	}
	msgValue, err := mem.GetIntegerFromAddress(&msgAddr)
	if err != nil {
		return false, err
	}
	pubKeyFelt, _ := pubKeyValue.ToFieldElement()
	msgFelt, _ := msgValue.ToFieldElement()

	publicKey, err := recoverPoint(pubKeyFelt)
	if err != nil {
		return false, fmt.Errorf("ErrorParsingPubKey: %w", err)
	}

	var msgBig big.Int
	msgFelt.BigInt(&msgBig)

	return ecdsaVerify(publicKey, &msgBig, sig.r, sig.s)
}

// recoverPoint reconstructs a curve point from its x-coordinate by
// solving y^2 = x^3 + alpha*x + beta for y (either root is accepted,
// matching Cairo's convention of not fixing parity on the builtin's
// stored pubkey).
func recoverPoint(x *f.Element) (*starkcurve.G1Affine, error) {
	var x3, alphaX, rhs f.Element
	x3.Square(x).Mul(&x3, x)
	alphaX.SetUint64(curveAlpha).Mul(&alphaX, x)
	var beta f.Element
	beta.SetBigInt(curveBeta)
	rhs.Add(&x3, &alphaX).Add(&rhs, &beta)

	var y f.Element
	if y.Sqrt(&rhs) == nil {
		return nil, fmt.Errorf("ErrorVerifyingSignature: x-coordinate is not on curve")
	}

	return &starkcurve.G1Affine{X: *x, Y: y}, nil
}

// ecdsaVerify implements the standard ECDSA verification equation:
// u1 = msg * s^-1, u2 = r * s^-1, accept iff (u1*G + u2*Pub).X == r (mod n).
func ecdsaVerify(publicKey *starkcurve.G1Affine, msg, r, sVal *big.Int) (bool, error) {
	n := fr.Modulus()
	if r.Sign() <= 0 || r.Cmp(n) >= 0 || sVal.Sign() <= 0 || sVal.Cmp(n) >= 0 {
		return false, fmt.Errorf("InvalidSignature: r or s out of range")
	}

	var sInv fr.Element
	var sFr fr.Element
	sFr.SetBigInt(sVal)
	sInv.Inverse(&sFr)

	var msgFr, rFr, u1Fr, u2Fr fr.Element
	msgFr.SetBigInt(msg)
	rFr.SetBigInt(r)
	u1Fr.Mul(&msgFr, &sInv)
	u2Fr.Mul(&rFr, &sInv)

	var u1Big, u2Big big.Int
	u1Fr.BigInt(&u1Big)
	u2Fr.BigInt(&u2Big)

	_, generator := starkcurve.Generators()
	var pubJac, genJac, sum starkcurve.G1Jac
	pubJac.FromAffine(publicKey)
	genJac.FromAffine(&generator)

	var t1, t2 starkcurve.G1Jac
	t1.ScalarMultiplication(&genJac, &u1Big)
	t2.ScalarMultiplication(&pubJac, &u2Big)
	sum.Set(&t1).AddAssign(&t2)

	var result starkcurve.G1Affine
	result.FromJacobian(&sum)

	var resultX big.Int
	result.X.BigInt(&resultX)
	resultX.Mod(&resultX, n)

	expectedR := new(big.Int).Mod(r, n)
	return resultX.Cmp(expectedR) == 0, nil
}

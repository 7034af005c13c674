package algebra

import (
	"errors"
	"math"
	"sort"

	"github.com/notargets/gohpfem/utils"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"
)

// Iterative runs a preconditioned Krylov method on the CSR matrix.
type Iterative struct {
	cfg SolverConfig
	log *zap.Logger
	// Statistics of the last call
	Iterations int
	Residual   float64
}

func NewIterative(cfg SolverConfig) *Iterative {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultSolverConfig().MaxIterations
	}
	if cfg.Restart <= 0 {
		cfg.Restart = DefaultSolverConfig().Restart
	}
	return &Iterative{cfg: cfg, log: cfg.logger()}
}

func (it *Iterative) Solve(A *Matrix[float64], b Vector[float64]) (x Vector[float64], err error) {
	const op = "Iterative.Solve"
	if err = checkSystem(op, A, b); err != nil {
		return
	}
	var (
		n     = A.Size()
		bnorm = floats.Norm(b, 2)
		csr   = utils.NewCSR(n, n, A.indptr, A.ind, A.data, "A")
		M     preconditioner
	)
	x = NewVector[float64](n)
	it.Iterations, it.Residual = 0, bnorm
	if bnorm == 0 {
		return
	}
	if M, err = newPreconditioner(it.cfg.Preconditioner, csr); err != nil {
		return nil, solveError(op, 0, bnorm, err)
	}
	k := &krylov{
		A:     csr,
		M:     M,
		b:     b,
		x:     x,
		tol:   math.Max(it.cfg.AbsTol, it.cfg.RelTol*bnorm),
		div:   it.cfg.DivTol * bnorm,
		maxIt: it.cfg.MaxIterations,
	}
	switch it.cfg.Method {
	case CG:
		err = k.cg()
	case BiCGStab:
		err = k.bicgstab()
	default:
		err = k.gmres(it.cfg.Restart)
	}
	it.Iterations, it.Residual = k.iter, k.res
	it.log.Debug("krylov solve",
		zap.Int("n", n),
		zap.Int("iterations", k.iter),
		zap.Float64("residual", k.res),
		zap.Error(err))
	if err != nil {
		return nil, solveError(op, k.iter, k.res, err)
	}
	return
}

type krylov struct {
	A     utils.CSR
	M     preconditioner
	b, x  []float64
	tol   float64
	div   float64
	maxIt int
	iter  int
	res   float64
}

func (k *krylov) residual(r []float64) {
	k.A.MulVec(r, k.x)
	floats.SubTo(r, k.b, r)
}

// check returns true when the iteration is done, with err set on failure.
func (k *krylov) check(res float64) (done bool, err error) {
	k.res = res
	switch {
	case math.IsNaN(res) || math.IsInf(res, 0):
		return true, ErrBreakdown
	case res <= k.tol:
		return true, nil
	case k.div > 0 && res > k.div:
		return true, ErrDiverged
	case k.iter >= k.maxIt:
		return true, ErrMaxIterations
	}
	return false, nil
}

func (k *krylov) cg() (err error) {
	var (
		n  = len(k.b)
		r  = make([]float64, n)
		z  = make([]float64, n)
		p  = make([]float64, n)
		Ap = make([]float64, n)
	)
	k.residual(r)
	k.M.apply(z, r)
	copy(p, z)
	rz := floats.Dot(r, z)
	for {
		k.A.MulVec(Ap, p)
		pAp := floats.Dot(p, Ap)
		if pAp == 0 {
			return ErrBreakdown
		}
		alpha := rz / pAp
		floats.AddScaled(k.x, alpha, p)
		floats.AddScaled(r, -alpha, Ap)
		k.iter++
		if done, err := k.check(floats.Norm(r, 2)); done {
			return err
		}
		k.M.apply(z, r)
		rzNew := floats.Dot(r, z)
		beta := rzNew / rz
		rz = rzNew
		floats.AddScaledTo(p, z, beta, p)
	}
}

func (k *krylov) bicgstab() (err error) {
	var (
		n     = len(k.b)
		r     = make([]float64, n)
		rhat  = make([]float64, n)
		p     = make([]float64, n)
		v     = make([]float64, n)
		s     = make([]float64, n)
		t     = make([]float64, n)
		phat  = make([]float64, n)
		shat  = make([]float64, n)
		rho   = 1.
		alpha = 1.
		omega = 1.
	)
	k.residual(r)
	copy(rhat, r)
	for {
		rhoNew := floats.Dot(rhat, r)
		if rhoNew == 0 || omega == 0 {
			return ErrBreakdown
		}
		beta := (rhoNew / rho) * (alpha / omega)
		// p = r + beta (p - omega v)
		floats.AddScaled(p, -omega, v)
		floats.AddScaledTo(p, r, beta, p)
		k.M.apply(phat, p)
		k.A.MulVec(v, phat)
		alpha = rhoNew / floats.Dot(rhat, v)
		floats.AddScaledTo(s, r, -alpha, v)
		k.iter++
		if sn := floats.Norm(s, 2); sn <= k.tol {
			floats.AddScaled(k.x, alpha, phat)
			k.res = sn
			return nil
		}
		k.M.apply(shat, s)
		k.A.MulVec(t, shat)
		tt := floats.Dot(t, t)
		if tt == 0 {
			return ErrBreakdown
		}
		omega = floats.Dot(t, s) / tt
		floats.AddScaled(k.x, alpha, phat)
		floats.AddScaled(k.x, omega, shat)
		floats.AddScaledTo(r, s, -omega, t)
		if done, err := k.check(floats.Norm(r, 2)); done {
			return err
		}
		rho = rhoNew
	}
}

// gmres is restarted GMRES with right preconditioning, so the monitored
// residual is the true one.
func (k *krylov) gmres(m int) (err error) {
	var (
		n  = len(k.b)
		r  = make([]float64, n)
		w  = make([]float64, n)
		z  = make([]float64, n)
		V  = make([][]float64, m+1)
		H  = make([][]float64, m+1)
		cs = make([]float64, m)
		sn = make([]float64, m)
		g  = make([]float64, m+1)
	)
	for i := range V {
		V[i] = make([]float64, n)
		H[i] = make([]float64, m)
	}
	for {
		k.residual(r)
		beta := floats.Norm(r, 2)
		if done, err := k.check(beta); done {
			return err
		}
		floats.ScaleTo(V[0], 1/beta, r)
		clear(g)
		g[0] = beta
		var j int
		for j = 0; j < m; j++ {
			k.M.apply(z, V[j])
			k.A.MulVec(w, z)
			for i := 0; i <= j; i++ {
				H[i][j] = floats.Dot(w, V[i])
				floats.AddScaled(w, -H[i][j], V[i])
			}
			H[j+1][j] = floats.Norm(w, 2)
			for i := 0; i < j; i++ {
				H[i][j], H[i+1][j] = cs[i]*H[i][j]+sn[i]*H[i+1][j], -sn[i]*H[i][j]+cs[i]*H[i+1][j]
			}
			d := math.Hypot(H[j][j], H[j+1][j])
			if d == 0 {
				return ErrBreakdown
			}
			cs[j], sn[j] = H[j][j]/d, H[j+1][j]/d
			hNext := H[j+1][j]
			H[j][j], H[j+1][j] = d, 0
			g[j], g[j+1] = cs[j]*g[j], -sn[j]*g[j]
			k.iter++
			k.res = math.Abs(g[j+1])
			if k.res <= k.tol || k.iter >= k.maxIt || hNext == 0 {
				j++
				break
			}
			floats.ScaleTo(V[j+1], 1/hNext, w)
		}
		// Back substitution for the least squares update
		y := make([]float64, j)
		for i := j - 1; i >= 0; i-- {
			y[i] = g[i]
			for l := i + 1; l < j; l++ {
				y[i] -= H[i][l] * y[l]
			}
			y[i] /= H[i][i]
		}
		clear(w)
		for i := 0; i < j; i++ {
			floats.AddScaled(w, y[i], V[i])
		}
		k.M.apply(z, w)
		floats.Add(k.x, z)
		if k.res <= k.tol {
			k.residual(r)
			k.res = floats.Norm(r, 2)
			return nil
		}
		if k.iter >= k.maxIt {
			return ErrMaxIterations
		}
	}
}

type preconditioner interface {
	apply(dst, r []float64)
}

func newPreconditioner(t PreconditionerType, A utils.CSR) (preconditioner, error) {
	switch t {
	case JacobiPreconditioner:
		d := A.Diagonal()
		for i, v := range d {
			if v == 0 {
				d[i] = 1
			} else {
				d[i] = 1 / v
			}
		}
		return jacobi(d), nil
	case ILU0Preconditioner:
		return newILU0(A)
	}
	return identity{}, nil
}

type identity struct{}

func (identity) apply(dst, r []float64) { copy(dst, r) }

type jacobi []float64

func (d jacobi) apply(dst, r []float64) { floats.MulTo(dst, d, r) }

// ilu0 is the incomplete LU factorization on the pattern of A, stored in
// one CSR array with a unit lower triangle.
type ilu0 struct {
	n      int
	indptr []int
	ind    []int
	lu     []float64
	diag   []int
}

func newILU0(A utils.CSR) (p *ilu0, err error) {
	var (
		n, _ = A.Dims()
		raw  = A.M.RawMatrix()
	)
	p = &ilu0{
		n:      n,
		indptr: raw.Indptr,
		ind:    raw.Ind,
		lu:     append([]float64(nil), raw.Data...),
		diag:   make([]int, n),
	}
	for i := 0; i < n; i++ {
		row := p.ind[p.indptr[i]:p.indptr[i+1]]
		k := sort.SearchInts(row, i)
		if k == len(row) || row[k] != i {
			return nil, errors.New("ILU(0) needs every diagonal entry in the pattern")
		}
		p.diag[i] = p.indptr[i] + k
	}
	for i := 1; i < n; i++ {
		for kk := p.indptr[i]; kk < p.diag[i]; kk++ {
			k := p.ind[kk]
			if p.lu[p.diag[k]] == 0 {
				return nil, ErrSingular
			}
			p.lu[kk] /= p.lu[p.diag[k]]
			for jj := kk + 1; jj < p.indptr[i+1]; jj++ {
				if kj := p.find(k, p.ind[jj]); kj >= 0 {
					p.lu[jj] -= p.lu[kk] * p.lu[kj]
				}
			}
		}
	}
	if n > 0 && p.lu[p.diag[n-1]] == 0 {
		return nil, ErrSingular
	}
	return
}

func (p *ilu0) find(i, j int) int {
	row := p.ind[p.indptr[i]:p.indptr[i+1]]
	k := sort.SearchInts(row, j)
	if k == len(row) || row[k] != j {
		return -1
	}
	return p.indptr[i] + k
}

func (p *ilu0) apply(dst, r []float64) {
	copy(dst, r)
	for i := 0; i < p.n; i++ {
		for kk := p.indptr[i]; kk < p.diag[i]; kk++ {
			dst[i] -= p.lu[kk] * dst[p.ind[kk]]
		}
	}
	for i := p.n - 1; i >= 0; i-- {
		for kk := p.diag[i] + 1; kk < p.indptr[i+1]; kk++ {
			dst[i] -= p.lu[kk] * dst[p.ind[kk]]
		}
		dst[i] /= p.lu[p.diag[i]]
	}
}

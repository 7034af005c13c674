package utils

import (
	"gonum.org/v1/gonum/mat"
)

type Vector struct {
	V     *mat.VecDense
	DataP []float64
}

func NewVector(n int, dataO ...[]float64) Vector {
	var (
		data []float64
	)
	if len(dataO) != 0 {
		data = dataO[0]
	} else {
		data = make([]float64, n)
	}
	return Vector{
		V:     mat.NewVecDense(n, data),
		DataP: data,
	}
}

func (v Vector) AtVec(i int) float64 { return v.DataP[i] }
func (v Vector) Len() int            { return len(v.DataP) }

// Chainable methods, all change the receiver
func (v Vector) POW(p int) Vector {
	for i, val := range v.DataP {
		v.DataP[i] = POW(val, p)
	}
	return v
}

func (v Vector) Scale(a float64) Vector {
	for i := range v.DataP {
		v.DataP[i] *= a
	}
	return v
}

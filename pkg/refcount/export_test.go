package refcount

// CountPegged exposes the saturation sentinel to black-box tests.
const CountPegged = countPegged

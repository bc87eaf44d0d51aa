// File: affinity/affinity.go
// Author: momentics <momentics@gmail.com>
//
// CPU pinning for poll workers. Platform code lives behind build tags.

package affinity

// SetAffinity binds the calling OS thread to one logical CPU. The caller must
// hold runtime.LockOSThread for the binding to stay with its goroutine.
func SetAffinity(cpuID int) error {
	return setAffinityPlatform(cpuID)
}

// PinWorker binds the calling thread to the CPU that worker id gets when
// workers are spread round-robin over the allowed set. It returns that CPU.
func PinWorker(id int) (int, error) {
	cpus, err := Allowed()
	if err != nil {
		return -1, err
	}
	if len(cpus) == 0 || id < 0 {
		return -1, errNoCPU
	}
	cpu := cpus[id%len(cpus)]
	return cpu, SetAffinity(cpu)
}
